package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nusagates/laragates-sub001/internal/archive"
	"github.com/nusagates/laragates-sub001/internal/audit"
	"github.com/nusagates/laragates-sub001/internal/cli"
	"github.com/nusagates/laragates-sub001/internal/config"
	"github.com/nusagates/laragates-sub001/internal/server"
	"github.com/nusagates/laragates-sub001/internal/sla"
	"github.com/nusagates/laragates-sub001/internal/storage/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "laragates",
		Short:        "Helpdesk session routing service",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "path to laragates.yaml")
	root.AddCommand(serveCmd(), initCmd(), sweepCmd(), archiveCmd(), auditCmd())
	return root
}

// loadConfig reads configuration and installs the JSON logger at the
// configured level.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (*sqlite.ResilientStore, error) {
	inner, err := sqlite.New(cfg.DBPath, sqlite.WithLockTimeout(cfg.LockTimeout), sqlite.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return sqlite.NewResilient(inner), nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket hub and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.ListenAddr = addr
			}
			app, err := server.Build(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.Error("close store", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger.Info("starting laragates", "addr", cfg.ListenAddr, "db", cfg.DBPath, "jobs", app.Scheduler.Jobs())
			return app.Run(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address, overrides listen_addr")
	return cmd
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate an API key for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, _ := cmd.Flags().GetString("agent")
			keysFile, _ := cmd.Flags().GetString("keys-file")
			if keysFile == "" {
				keysFile = config.Default().KeysFile
			}
			key, err := cli.InitKeysFile(keysFile, agent)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent: %s\nkey: %s\nkeys file: %s\n", agent, key, keysFile)
			return nil
		},
	}
	cmd.Flags().String("agent", "", "agent id the key belongs to")
	cmd.Flags().String("keys-file", "", "keys file to update")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one SLA sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			stats, err := sla.NewEvaluator(store, cfg.Thresholds(), sla.WithLogger(logger)).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d, new breaches %d, existing %d, errors %d\n",
				stats.Checked, stats.Breached, stats.Existing, stats.Errors)
			return nil
		},
	}
}

func archiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive long-closed sessions",
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "Move closed sessions past retention into an archive file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			a, err := archive.New(store, archive.Config{
				Dir:       cfg.Archive.Dir,
				Retention: cfg.Archive.Retention,
				BatchSize: cfg.Archive.BatchSize,
			}, archive.WithLogger(logger))
			if err != nil {
				return err
			}
			res, err := a.Run(cmd.Context())
			if err != nil {
				return err
			}
			if res.File == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to archive")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d sessions to %s (purged %d, kept %d)\n", res.Archived, res.File, res.Purged, res.Skipped)
			return nil
		},
	}
	inspect := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the sessions stored in an archive file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := archive.ReadArchive(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range records {
				verified := audit.Verify(r.Trail) == nil
				if err := enc.Encode(map[string]any{
					"session_id":  r.Session.ID,
					"customer_id": r.Session.CustomerID,
					"assigned_to": r.Session.AssignedTo,
					"closed_at":   r.Session.ClosedAt,
					"entries":     len(r.Trail),
					"verified":    verified,
					"archived_at": r.ArchivedAt,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.AddCommand(run, inspect)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect session audit trails",
	}
	verify := &cobra.Command{
		Use:   "verify <session-id>",
		Short: "Check the hash chain of a session's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.AuditTrail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no audit entries for session %s", args[0])
			}
			if err := audit.Verify(entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s: %d entries, chain intact\n", args[0], len(entries))
			return nil
		},
	}
	cmd.AddCommand(verify)
	return cmd
}

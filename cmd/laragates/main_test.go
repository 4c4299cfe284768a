package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage/sqlite"
)

func TestInitCommandCreatesKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "laragates.keys.yaml")

	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"init", "--agent", "agent-a", "--keys-file", keyPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute init: %v", err)
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("read keys file: %v", err)
	}
	if !bytes.Contains(data, []byte("agent-a")) {
		t.Fatalf("expected agent section to be written")
	}
}

// writeConfig points a config file at a fresh database and returns its path
// along with the database path.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "laragates.db")
	cfgPath := filepath.Join(dir, "laragates.yaml")
	body := fmt.Sprintf("db_path: %s\nkeys_file: %s\nlog_level: error\n", dbPath, filepath.Join(dir, "keys.yaml"))
	if err := os.WriteFile(cfgPath, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAuditVerifyCommand(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	st, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sess, err := st.CreateSession(context.Background(), core.Session{CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	st.Close()

	out, err := run(t, "audit", "verify", sess.ID, "--config", cfgPath)
	if err != nil {
		t.Fatalf("audit verify: %v", err)
	}
	if !strings.Contains(out, "chain intact") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := run(t, "audit", "verify", "missing", "--config", cfgPath); err == nil {
		t.Fatal("expected error for a session without audit entries")
	}
}

func TestSweepCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := run(t, "sweep", "--config", cfgPath)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "checked 0") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestArchiveRunNothingDue(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := run(t, "archive", "run", "--config", cfgPath)
	if err != nil {
		t.Fatalf("archive run: %v", err)
	}
	if !strings.Contains(out, "nothing to archive") {
		t.Fatalf("unexpected output %q", out)
	}
}

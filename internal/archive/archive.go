// Package archive moves long-closed sessions and their audit trails out of
// the live store into compressed CBOR files.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/nusagates/laragates-sub001/internal/audit"
	"github.com/nusagates/laragates-sub001/internal/clock"
	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

// Record is one archived session with its complete audit trail.
type Record struct {
	Session    core.Session      `cbor:"1,keyasint"`
	Trail      []core.AuditEntry `cbor:"2,keyasint"`
	ArchivedAt time.Time         `cbor:"3,keyasint"`
}

// Result describes one archive run. File is empty when nothing was due.
// Skipped counts archived sessions that changed before the purge and were
// kept in the live store.
type Result struct {
	File     string
	Archived int
	Purged   int
	Skipped  int
}

type Config struct {
	Dir       string
	Retention time.Duration
	BatchSize int
}

type Archiver struct {
	store  storage.Store
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
}

type Option func(*Archiver)

func WithClock(c clock.Clock) Option {
	return func(a *Archiver) {
		if c != nil {
			a.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

func New(store storage.Store, cfg Config, opts ...Option) (*Archiver, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: archive dir required", core.ErrInvalidInput)
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("%w: archive retention must be positive", core.ErrInvalidInput)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	a := &Archiver{store: store, cfg: cfg, clock: clock.Real(), logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "archive")
	return a, nil
}

// Run archives every session closed before now minus the retention window.
// Each batch is flushed to disk before its rows are purged. The purge only
// removes audit rows that went into the file and keeps any session that
// changed after its trail was read.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	now := a.clock.Now()
	cutoff := now.Add(-a.cfg.Retention)
	var (
		res  Result
		w    *writer
		seen = make(map[string]bool)
	)
	defer func() {
		if w != nil {
			w.abort()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := a.store.ClosedSessionsBefore(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("select closed sessions: %w", err)
		}
		batch = unseen(batch, seen)
		if len(batch) == 0 {
			break
		}
		if w == nil {
			path := filepath.Join(a.cfg.Dir, fmt.Sprintf("sessions-%d.cbor.zst", now.Unix()))
			if w, err = create(path); err != nil {
				return res, err
			}
			res.File = path
		}

		targets := make([]storage.PurgeTarget, 0, len(batch))
		for _, s := range batch {
			seen[s.ID] = true
			trail, err := a.store.AuditTrail(ctx, s.ID)
			if err != nil {
				return res, fmt.Errorf("audit trail %s: %w", s.ID, err)
			}
			if err := w.write(Record{Session: s, Trail: trail, ArchivedAt: now}); err != nil {
				return res, err
			}
			target := storage.PurgeTarget{SessionID: s.ID}
			if len(trail) > 0 {
				target.ThroughSeq = trail[len(trail)-1].Seq
			}
			targets = append(targets, target)
		}
		if err := w.sync(); err != nil {
			return res, err
		}
		res.Archived += len(targets)

		n, err := a.store.PurgeClosedSessions(ctx, cutoff, targets)
		if err != nil {
			return res, fmt.Errorf("purge archived sessions: %w", err)
		}
		res.Purged += n
		if skipped := len(targets) - n; skipped > 0 {
			res.Skipped += skipped
			a.logger.WarnContext(ctx, "sessions changed during archive, kept live", "skipped", skipped)
		}
	}

	if w != nil {
		err := w.close()
		w = nil
		if err != nil {
			return res, err
		}
		a.logger.InfoContext(ctx, "archived sessions", "file", res.File, "archived", res.Archived, "purged", res.Purged)
	}
	return res, nil
}

func unseen(batch []core.Session, seen map[string]bool) []core.Session {
	out := batch[:0]
	for _, s := range batch {
		if !seen[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// ReadArchive decodes every record in an archive file.
func ReadArchive(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open zstd stream: %w", err)
	}
	defer zr.Close()

	dec := audit.NewDecoder(zr)
	var out []Record
	for {
		var r Record
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode record %d: %w", len(out), err)
		}
		out = append(out, r)
	}
}

type writer struct {
	f  *os.File
	zw *zstd.Encoder
}

func create(path string) (*writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open zstd stream: %w", err)
	}
	return &writer{f: f, zw: zw}, nil
}

func (w *writer) write(r Record) error {
	if err := audit.NewEncoder(w.zw).Encode(r); err != nil {
		return fmt.Errorf("encode record %s: %w", r.Session.ID, err)
	}
	return nil
}

// sync makes everything written so far durable.
func (w *writer) sync() error {
	if err := w.zw.Flush(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}
	return w.f.Sync()
}

func (w *writer) close() error {
	if err := w.zw.Close(); err != nil {
		w.f.Close()
		return fmt.Errorf("close zstd stream: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

func (w *writer) abort() {
	_ = w.zw.Close()
	_ = w.f.Close()
}

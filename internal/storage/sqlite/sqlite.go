package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

//go:embed schema.sql
var schema string

// DefaultLockTimeout bounds how long a unit of work may wait for the write lock.
const DefaultLockTimeout = 5 * time.Second

var _ storage.Store = (*Store)(nil)

type Store struct {
	db          dbHandle
	lockTimeout time.Duration
	logger      *slog.Logger
}

type Option func(*Store)

// WithLockTimeout sets the bound on lock waits. Non-positive values are ignored.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New opens a file-backed store. Write transactions begin IMMEDIATE so the
// write lock is held from the first read of a unit of work until commit.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return open(db, opts)
}

// NewInMemory opens a private in-memory store, mostly for tests.
func NewInMemory(opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return open(db, opts)
}

func open(db *sql.DB, opts []Option) (*Store, error) {
	// SQLite is single-writer and every ":memory:" connection is a separate
	// database, so one connection serializes units of work in both modes.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{lockTimeout: DefaultLockTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.db = &queryLogger{inner: db, logger: s.logger.With("component", "sqlite")}
	return s, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Update runs fn in one write transaction bounded by the lock timeout.
// fn may run more than once when a caller retries on a locked database, so
// it must not carry state across invocations.
func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	tx := &txn{ctx: ctx, tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return classify("tx", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// WithLock locks a single session row and hands its state to fn.
func (s *Store) WithLock(ctx context.Context, sessionID string, fn func(tx storage.Tx, sess core.Session) error) error {
	return s.Update(ctx, func(tx storage.Tx) error {
		sess, err := tx.LockSession(sessionID)
		if err != nil {
			return err
		}
		return fn(tx, sess)
	})
}

// classify maps lock-wait timeouts to core.ErrBusy. Domain errors and
// "database is locked" errors pass through untouched so callers can match
// them and the retry layer can see them.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", core.ErrBusy, op, err)
	}
	return err
}

func ts(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func nullableTS(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return ts(*t)
}

func fromTS(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func fromNullTS(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromTS(v.Int64)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

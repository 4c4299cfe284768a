package sqlite

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// RetryConfig shapes the backoff used when a unit of work loses the
// database write lock to another connection or process.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64
}

// DefaultRetryConfig waits 50ms, 100ms, ... for up to seven retries, each
// stretched by up to a quarter at random.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 7, BaseDelay: 50 * time.Millisecond, JitterPct: 0.25}
}

// backoff is the wait before retry n, counting from 1. r in [0,1) picks the
// jitter.
func (c RetryConfig) backoff(n int, r float64) time.Duration {
	d := c.BaseDelay << (n - 1)
	return d + time.Duration(float64(d)*r*c.JitterPct)
}

// RetryOnDBLockWithConfig runs fn until it stops failing with a lock error
// or the retries run out. Other errors return at once.
func RetryOnDBLockWithConfig(cfg RetryConfig, fn func() error) error {
	return retryLocked(cfg, fn, time.Sleep)
}

func retryLocked(cfg RetryConfig, fn func() error, sleep func(time.Duration)) error {
	for n := 0; ; n++ {
		err := fn()
		if err == nil || !isDBLocked(err) || n == cfg.MaxRetries {
			return err
		}
		sleep(cfg.backoff(n+1, rand.Float64()))
	}
}

// isDBLocked reports SQLITE_BUSY and SQLITE_LOCKED, including extended codes
// and errors that only survive as text after wrapping.
func isDBLocked(err error) bool {
	if err == nil {
		return false
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

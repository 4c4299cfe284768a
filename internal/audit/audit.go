// Package audit encodes session snapshots for the append-only audit log and
// chains entries together so a trail can be verified after the fact.
package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/nusagates/laragates-sub001/internal/core"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("audit: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("audit: CBOR decoder initialization failed: " + err.Error())
	}
}

// ErrChainBroken is returned by Verify when an entry does not link to its
// predecessor or its digest does not match its content.
var ErrChainBroken = errors.New("audit chain broken")

// Marshal encodes v with deterministic CBOR. The same value always yields
// the same bytes, which the digest depends on.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR produced by Marshal.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder returns a streaming encoder with the same deterministic options.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a streaming decoder for data written by NewEncoder.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodeSnapshot encodes a session state. A nil session encodes to nil.
func EncodeSnapshot(s *core.Session) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	data, err := Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot reverses EncodeSnapshot. Empty input yields nil.
func DecodeSnapshot(data []byte) (*core.Session, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var s core.Session
	if err := Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// NewEntry builds an unsaved audit entry for a transition from before to after.
func NewEntry(actor string, action core.AuditAction, before, after *core.Session, at time.Time) (core.AuditEntry, error) {
	var sessionID string
	switch {
	case after != nil:
		sessionID = after.ID
	case before != nil:
		sessionID = before.ID
	default:
		return core.AuditEntry{}, fmt.Errorf("%w: audit entry needs a snapshot", core.ErrInvalidInput)
	}
	b, err := EncodeSnapshot(before)
	if err != nil {
		return core.AuditEntry{}, err
	}
	a, err := EncodeSnapshot(after)
	if err != nil {
		return core.AuditEntry{}, err
	}
	return core.AuditEntry{
		SessionID: sessionID,
		Actor:     actor,
		Action:    action,
		Before:    b,
		After:     a,
		CreatedAt: at.UTC(),
	}, nil
}

type digestInput struct {
	ID        string `cbor:"1,keyasint"`
	SessionID string `cbor:"2,keyasint"`
	Actor     string `cbor:"3,keyasint"`
	Action    string `cbor:"4,keyasint"`
	Before    []byte `cbor:"5,keyasint"`
	After     []byte `cbor:"6,keyasint"`
	CreatedAt string `cbor:"7,keyasint"`
}

// Digest computes blake3(prev || cbor(entry)) for e.
func Digest(prev []byte, e core.AuditEntry) ([]byte, error) {
	payload, err := Marshal(digestInput{
		ID:        e.ID,
		SessionID: e.SessionID,
		Actor:     e.Actor,
		Action:    string(e.Action),
		Before:    e.Before,
		After:     e.After,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("encode digest input: %w", err)
	}
	h := blake3.New()
	_, _ = h.Write(prev)
	_, _ = h.Write(payload)
	return h.Sum(nil), nil
}

// Verify walks a session's trail in sequence order and checks every link.
func Verify(entries []core.AuditEntry) error {
	var prev []byte
	for i, e := range entries {
		if !bytes.Equal(e.PrevHash, prev) {
			return fmt.Errorf("%w: entry %d (%s) does not link to its predecessor", ErrChainBroken, i, e.ID)
		}
		want, err := Digest(prev, e)
		if err != nil {
			return err
		}
		if !bytes.Equal(e.Digest, want) {
			return fmt.Errorf("%w: entry %d (%s) digest mismatch", ErrChainBroken, i, e.ID)
		}
		prev = e.Digest
	}
	return nil
}

// Sink receives committed audit entries for forwarding outside the store.
type Sink interface {
	Record(ctx context.Context, entry core.AuditEntry) error
}

// LogSink forwards entries to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, e core.AuditEntry) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	before, err := DecodeSnapshot(e.Before)
	if err != nil {
		return err
	}
	after, err := DecodeSnapshot(e.After)
	if err != nil {
		return err
	}
	attrs := []any{
		"audit_id", e.ID,
		"session_id", e.SessionID,
		"actor", e.Actor,
		"action", string(e.Action),
	}
	if before != nil {
		attrs = append(attrs, "before_status", string(before.Status), "before_assigned_to", before.AssignedTo)
	}
	if after != nil {
		attrs = append(attrs, "after_status", string(after.Status), "after_assigned_to", after.AssignedTo)
	}
	logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

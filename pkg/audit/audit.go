package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"rolegate/pkg/models"
)

// Signer signs an audit entry payload. Implementations must be safe for
// concurrent use.
type Signer interface {
	Sign(payload []byte) (string, error)
}

// Recorder receives a durable copy of every appended entry. Recorder
// failures are logged and swallowed; the in-memory trail is authoritative
// for the process lifetime.
type Recorder interface {
	Record(ctx context.Context, entry models.AuditLogEntry) error
}

// Trail is the append-only audit log, ordered newest-first. Entries are
// never mutated after Append returns.
type Trail struct {
	mu       sync.RWMutex
	entries  []models.AuditLogEntry
	signer   Signer
	recorder Recorder
	now      func() time.Time
}

type Option func(*Trail)

// WithSigner enables cryptographic signing of appended entries.
func WithSigner(s Signer) Option {
	return func(t *Trail) { t.signer = s }
}

// WithRecorder mirrors appended entries into a durable store.
func WithRecorder(r Recorder) Option {
	return func(t *Trail) { t.recorder = r }
}

// MultiRecorder fans an entry out to every recorder, returning the first
// error after all have been attempted.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, entry models.AuditLogEntry) error {
	var first error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTrail(opts ...Option) *Trail {
	t := &Trail{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append stores the entry, assigning an id and timestamp when absent, and
// returns the stored copy. A signing failure degrades to an unsigned entry
// with Verified=false; the write itself never fails.
func (t *Trail) Append(ctx context.Context, entry models.AuditLogEntry) models.AuditLogEntry {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.now()
	}
	if t.signer != nil {
		sig, err := t.signer.Sign(SignaturePayload(entry))
		if err != nil {
			log.Printf("audit: signing failed, storing unsigned: %v", err)
			verified := false
			entry.Verified = &verified
		} else {
			entry.Signature = sig
			verified := true
			entry.Verified = &verified
		}
	}
	t.mu.Lock()
	t.entries = append([]models.AuditLogEntry{entry}, t.entries...)
	t.mu.Unlock()
	if t.recorder != nil {
		if err := t.recorder.Record(ctx, entry); err != nil {
			log.Printf("audit: durable record failed: %v", err)
		}
	}
	return entry
}

// Log is the convenience write path used by administrative actions.
func (t *Trail) Log(ctx context.Context, action, actor, details, status string) models.AuditLogEntry {
	return t.Append(ctx, models.AuditLogEntry{
		Action:  action,
		Actor:   actor,
		Details: details,
		Status:  status,
	})
}

// Query returns every entry, most recent first.
func (t *Trail) Query() []models.AuditLogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.AuditLogEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len reports the number of stored entries.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Package audit implements the append-only audit trail every policy
// decision and mutating tool call writes to. The shape — an in-memory ring
// buffer with an optional durable sqlite mirror, an optional HMAC signer
// for tamper evidence, and an optional webhook delivery sink — is built
// up through WithMirror/WithSigner/WithSink so each layer stays opt-in.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Entry is one audit record.
type Entry struct {
	ID        string
	Timestamp time.Time
	TenantID  string
	Action    string
	Target    string
	Decision  string
	Risk      string
	Actor     string
	Detail    map[string]any
	Signature string // hex HMAC, empty when no signer is configured
}

// Sink receives every entry after it has been appended and (if configured)
// signed, for out-of-process delivery.
type Sink interface {
	Deliver(Entry) error
}

// Logger is the append-only ring buffer plus optional mirror and sink.
type Logger struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	next     int
	filled   bool

	signer *signer
	mirror *sqliteMirror
	sink   Sink
}

// NewLogger builds a Logger with the given ring buffer capacity.
func NewLogger(capacity int) *Logger {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &Logger{entries: make([]Entry, capacity), capacity: capacity}
}

// WithSigner attaches HMAC tamper-evidence using key.
func (l *Logger) WithSigner(key []byte) *Logger {
	l.signer = newSigner(key)
	return l
}

// WithMirror attaches a durable sqlite-backed copy of every entry.
func (l *Logger) WithMirror(m *sqliteMirror) *Logger {
	l.mirror = m
	return l
}

// WithSink attaches a delivery sink invoked after every append.
func (l *Logger) WithSink(s Sink) *Logger {
	l.sink = s
	return l
}

// Record appends e to the ring buffer, stamping ID/Timestamp/Signature if
// unset, mirrors it durably if configured, and delivers it to the sink.
// Mirror and sink failures are logged, not returned: the in-memory record
// always succeeds so a downstream outage cannot block the operation being
// audited.
func (l *Logger) Record(e Entry) Entry {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if l.signer != nil {
		e.Signature = l.signer.sign(e)
	}

	l.mu.Lock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.filled = true
	}
	l.mu.Unlock()

	if l.mirror != nil {
		if err := l.mirror.insert(e); err != nil {
			log.Warn().Err(err).Str("entry_id", e.ID).Msg("failed to mirror audit entry")
		}
	}
	if l.sink != nil {
		if err := l.sink.Deliver(e); err != nil {
			log.Warn().Err(err).Str("entry_id", e.ID).Msg("failed to deliver audit entry")
		}
	}
	return e
}

// Recent returns up to n of the most recently recorded entries, newest
// last.
func (l *Logger) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []Entry
	if l.filled {
		ordered = append(ordered, l.entries[l.next:]...)
	}
	ordered = append(ordered, l.entries[:l.next]...)

	if n <= 0 || n >= len(ordered) {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// Verify reports whether e's signature matches what the configured signer
// would have produced, for tamper-evidence checks against the durable
// mirror. Returns true when no signer is configured.
func (l *Logger) Verify(e Entry) bool {
	if l.signer == nil {
		return true
	}
	return hmac.Equal([]byte(e.Signature), []byte(l.signer.sign(e)))
}

type signer struct {
	key []byte
}

func newSigner(key []byte) *signer {
	return &signer{key: key}
}

func (s *signer) sign(e Entry) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(e.ID))
	mac.Write([]byte(e.TenantID))
	mac.Write([]byte(e.Action))
	mac.Write([]byte(e.Target))
	mac.Write([]byte(e.Decision))
	mac.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	return hex.EncodeToString(mac.Sum(nil))
}

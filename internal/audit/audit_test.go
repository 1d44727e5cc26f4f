package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_RecordAssignsIDAndTimestamp(t *testing.T) {
	l := NewLogger(10)
	e := l.Record(Entry{Action: "db_query_run", Decision: "allow"})
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestLogger_RecentReturnsNewestLast(t *testing.T) {
	l := NewLogger(10)
	l.Record(Entry{Action: "first"})
	l.Record(Entry{Action: "second"})
	l.Record(Entry{Action: "third"})

	recent := l.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "third", recent[len(recent)-1].Action)
}

func TestLogger_RingBufferWrapsAtCapacity(t *testing.T) {
	l := NewLogger(2)
	l.Record(Entry{Action: "first"})
	l.Record(Entry{Action: "second"})
	l.Record(Entry{Action: "third"})

	recent := l.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Action)
	assert.Equal(t, "third", recent[1].Action)
}

func TestLogger_SignerProducesVerifiableSignature(t *testing.T) {
	l := NewLogger(10).WithSigner([]byte("secret"))
	e := l.Record(Entry{Action: "db_admin_shutdown"})
	assert.NotEmpty(t, e.Signature)
	assert.True(t, l.Verify(e))

	tampered := e
	tampered.Action = "db_admin_startup"
	assert.False(t, l.Verify(tampered))
}

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_StableForEquivalentWhitespace(t *testing.T) {
	a := Fingerprint("SELECT  *   FROM users", nil, "conn1")
	b := Fingerprint("SELECT * FROM users", nil, "conn1")
	assert.Equal(t, a, b)
}

func TestFingerprint_DiffersByConnection(t *testing.T) {
	a := Fingerprint("SELECT * FROM users", nil, "conn1")
	b := Fingerprint("SELECT * FROM users", nil, "conn2")
	assert.NotEqual(t, a, b)
}

func TestFingerprint_DiffersByParams(t *testing.T) {
	a := Fingerprint("SELECT * FROM users WHERE id = $1", map[string]any{"id": 1}, "conn1")
	b := Fingerprint("SELECT * FROM users WHERE id = $1", map[string]any{"id": 2}, "conn1")
	assert.NotEqual(t, a, b)
}

func TestFingerprint_ParamOrderIndependent(t *testing.T) {
	a := Fingerprint("SELECT * FROM t WHERE a=$1 AND b=$2", map[string]any{"a": 1, "b": 2}, "conn1")
	b := Fingerprint("SELECT * FROM t WHERE a=$1 AND b=$2", map[string]any{"b": 2, "a": 1}, "conn1")
	assert.Equal(t, a, b)
}

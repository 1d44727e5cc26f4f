package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratch_WriteThenRead(t *testing.T) {
	s, err := NewScratch(t.TempDir(), "invocation-1")
	require.NoError(t, err)

	require.NoError(t, s.Write("out/result.json", []byte(`{"ok":true}`)))
	data, err := s.Read("out/result.json", 0)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestScratch_RejectsPathTraversal(t *testing.T) {
	s, err := NewScratch(t.TempDir(), "invocation-1")
	require.NoError(t, err)

	_, err = s.Read("../../etc/passwd", 0)
	assert.Error(t, err)
}

func TestScratch_RejectsAbsolutePath(t *testing.T) {
	s, err := NewScratch(t.TempDir(), "invocation-1")
	require.NoError(t, err)

	err = s.Write("/etc/passwd", []byte("x"))
	assert.Error(t, err)
}

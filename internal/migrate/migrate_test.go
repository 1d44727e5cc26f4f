package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover_OrdersLexicographically(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "0002_add_index.sql", "CREATE INDEX idx ON users(id);")
	write(t, dir, "0001_create_users.sql", "CREATE TABLE users (id INT);")
	write(t, dir, "readme.txt", "not a migration")

	migrations, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "0001_create_users", migrations[0].Version)
	assert.Equal(t, "0002_add_index", migrations[1].Version)
}

func TestDiscover_ChecksumIsStableForIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "0001_a.sql", "SELECT 1;")
	m1, err := Discover(dir)
	require.NoError(t, err)

	m2, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, m1[0].Checksum, m2[0].Checksum)
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

package dataimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertStatement_BuildsPositionalPlaceholders(t *testing.T) {
	stmt := insertStatement("users", []string{"id", "name", "email"})
	assert.Equal(t, `INSERT INTO "users" ("id", "name", "email") VALUES ($1, $2, $3)`, stmt)
}

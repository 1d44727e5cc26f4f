package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCacheable_RequiresOptIn(t *testing.T) {
	assert.False(t, IsCacheable(DirectiveOff, "SELECT * FROM users"))
	assert.True(t, IsCacheable(DirectiveRead, "SELECT * FROM users"))
}

func TestIsCacheable_RejectsMutatingStatements(t *testing.T) {
	assert.False(t, IsCacheable(DirectiveRead, "UPDATE users SET name = 'x'"))
	assert.False(t, IsCacheable(DirectiveRead, "WITH t AS (DELETE FROM users RETURNING *) SELECT * FROM t"))
}

func TestIsCacheable_IgnoresKeywordsInsideLiterals(t *testing.T) {
	assert.True(t, IsCacheable(DirectiveRead, "SELECT * FROM logs WHERE action = 'update'"))
}

func TestIsCacheable_RejectsNonSelectStatements(t *testing.T) {
	assert.False(t, IsCacheable(DirectiveRead, "CALL refresh_stats()"))
}

func TestContainsWord_DoesNotMatchSubstringOfIdentifier(t *testing.T) {
	assert.False(t, containsWord("SELECT * FROM updates_log", "UPDATE"))
	assert.True(t, containsWord("SELECT * FROM x; UPDATE y SET z=1", "UPDATE"))
}

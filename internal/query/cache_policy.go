// Package query implements the query tool: statement execution with
// named (@name) parameter binding, cache-directive gating, and
// transactional batches. Results are fully materialized; the package has no
// streaming iterator.
package query

import "strings"

// Directive is the caller-supplied cache intent for one query.
type Directive string

const (
	DirectiveOff       Directive = "off"
	DirectiveRead      Directive = "read"
	DirectiveReadWrite Directive = "read-write"
)

var mutatingTokens = []string{"INSERT", "UPDATE", "DELETE", "CALL", "DROP", "ALTER", "TRUNCATE", "GRANT", "REVOKE"}

// IsCacheable applies a shallow statement-shape heuristic: cacheable only
// when the directive opts in and the statement looks read-only (starts
// with SELECT/WITH, contains no mutating keyword outside string
// literals). This is intentionally not a full SQL parser.
func IsCacheable(directive Directive, sql string) bool {
	if directive != DirectiveRead && directive != DirectiveReadWrite {
		return false
	}
	return isReadOnly(sql)
}

func isReadOnly(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return false
	}
	stripped := stripStringLiterals(sql)
	strippedUpper := strings.ToUpper(stripped)
	for _, tok := range mutatingTokens {
		if containsWord(strippedUpper, tok) {
			return false
		}
	}
	return true
}

// stripStringLiterals removes single- and double-quoted string contents so
// the mutating-keyword scan never matches text that merely mentions
// "update" or "delete" inside a literal.
func stripStringLiterals(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isIdentByte(haystack[start-1])
		afterOK := end == len(haystack) || !isIdentByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

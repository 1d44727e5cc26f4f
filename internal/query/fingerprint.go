package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint computes the cache key for a query: hash(normalized-SQL ||
// canonical-parameters || connection-id).
func Fingerprint(sql string, params map[string]any, connectionID string) string {
	normalized := normalizeSQL(sql)
	canonical := canonicalizeParams(params)
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	h.Write([]byte{0})
	h.Write([]byte(connectionID))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeSQL(sql string) string {
	fields := strings.Fields(sql)
	return strings.ToLower(strings.Join(fields, " "))
}

func canonicalizeParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, params[k])
	}
	return b.String()
}

// Package fingerprint derives the source-independent identity of a vacancy.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"
)

const separator = "\x1f"

// Compute hashes the normalized (title, company, location) projection.
// Source and source-native id are left out so the same posting syndicated
// across sources collapses to one value.
func Compute(title, company, location string) string {
	key := strings.Join([]string{
		Field(title),
		Field(company),
		Field(location),
	}, separator)
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// Field lowercases s, strips punctuation and symbols, and collapses whitespace.
func Field(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

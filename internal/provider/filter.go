package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
)

// Blacklisted reports whether text contains any non-empty entry of list.
// Matching is always case-insensitive (Unicode case folding).
func Blacklisted(text string, list []string) bool {
	if text == "" || len(list) == 0 {
		return false
	}
	// Caser keeps state, so each call gets its own.
	fold := cases.Fold()
	text = fold.String(text)
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(text, fold.String(entry)) {
			return true
		}
	}
	return false
}

// BuildHash fingerprints the non-empty parts.
func BuildHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		if p == "" {
			continue
		}
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func nullOrEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

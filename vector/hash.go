package vector

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize canonicalizes text for content addressing: leading/trailing
// whitespace is trimmed and internal whitespace runs collapse to a single
// space. Formatting-only edits therefore hash identically and never
// trigger a re-embedding.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ContentHash fingerprints a chunk: the ordered discriminators and the
// normalized text are joined with "|" and hashed with SHA-256. Identical
// hash means no new embedding call and no duplicate row.
func ContentHash(discriminators []string, text string) string {
	h := sha256.New()
	for _, d := range discriminators {
		h.Write([]byte(d))
		h.Write([]byte{'|'})
	}
	h.Write([]byte(Normalize(text)))
	return hex.EncodeToString(h.Sum(nil))
}

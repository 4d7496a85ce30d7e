package document

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyFor derives the cache key of a document reference: the hex SHA-256 of
// the reference string. The key tracks the address, not the content, so a
// URL whose content changes keeps serving the cached text until the entry
// expires.
func KeyFor(reference string) string {
	sum := sha256.Sum256([]byte(reference))
	return hex.EncodeToString(sum[:])
}

package models

import "time"

// CacheEntry is the durable record for one extracted document, stored in
// Firestore (one document per cache key) or serialised as JSON for valkey.
// Entries are replaced wholesale on refresh and never patched.
type CacheEntry struct {
	Content     []byte    `firestore:"content" json:"content"`
	Compressed  bool      `firestore:"compressed" json:"compressed"`
	SourceURL   string    `firestore:"sourceUrl,omitempty" json:"sourceUrl,omitempty"`
	ContentType string    `firestore:"contentType,omitempty" json:"contentType,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt" json:"createdAt"`
	// ExpiresAt is the field Firestore's TTL policy is configured on.
	ExpiresAt time.Time `firestore:"expiration" json:"expiration"`
	UpdatedAt time.Time `firestore:"updatedAt,serverTimestamp" json:"updatedAt,omitempty"`
}

// IsExpired reports whether the entry expired strictly before now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}

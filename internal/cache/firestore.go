package cache

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentingest/internal/models"
)

// ExpirationField is the Firestore field holding an entry's expiry. The
// TTL policy set up by cmd/setup-cache-ttl targets this field.
const ExpirationField = "expiration"

// FirestoreBackend stores one document per cache key in a collection.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreBackend uses a client owned by the caller.
func NewFirestoreBackend(client *firestore.Client, collection string) *FirestoreBackend {
	return &FirestoreBackend{client: client, collection: collection}
}

func (b *FirestoreBackend) doc(key string) *firestore.DocumentRef {
	return b.client.Collection(b.collection).Doc(key)
}

func (b *FirestoreBackend) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	snap, err := b.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore get %s: %w", key, err)
	}
	var entry models.CacheEntry
	if err := snap.DataTo(&entry); err != nil {
		// e.g. an expiration written as a plain string instead of a timestamp.
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	return &entry, nil
}

// Put replaces the whole document; updatedAt is assigned by the server.
func (b *FirestoreBackend) Put(ctx context.Context, key string, entry *models.CacheEntry) error {
	if _, err := b.doc(key).Set(ctx, entry); err != nil {
		return fmt.Errorf("firestore set %s: %w", key, err)
	}
	return nil
}

func (b *FirestoreBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes up to limit documents whose expiration is before now.
func (b *FirestoreBackend) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	query := b.client.Collection(b.collection).Where(ExpirationField, "<", now.UTC())
	if limit > 0 {
		query = query.Limit(limit)
	}
	it := query.Documents(ctx)
	defer it.Stop()

	bw := b.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to list expired cache entries: %w", err)
		}
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to enqueue delete for %s: %w", snap.Ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	deleted := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete expired cache entry: %w", err)
			}
			continue
		}
		deleted++
	}
	return deleted, firstErr
}

// Close is a no-op; the client's owner closes it.
func (b *FirestoreBackend) Close() error {
	return nil
}

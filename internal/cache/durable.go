package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/documentingest/internal/models"
	"github.com/Lllllllleong/documentingest/internal/telemetry"
)

var (
	// ErrNotFound is returned by a Backend when no entry exists for a key.
	ErrNotFound = errors.New("cache entry not found")
	// ErrCacheCorrupt marks an entry that exists but cannot be trusted:
	// undecodable, missing its expiry, or failing decompression.
	ErrCacheCorrupt = errors.New("cache entry corrupt")
)

// DefaultTTL is the durable entry lifetime used when none is configured.
const DefaultTTL = 30 * 24 * time.Hour

// Backend is a per-key document store. Put replaces the entry wholesale.
type Backend interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Put(ctx context.Context, key string, entry *models.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Sweeper is implemented by backends that need expired entries removed
// explicitly rather than by the store itself.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// Durable applies expiry, validation and compression policy on top of a
// Backend. Every failure on the read path degrades to a miss.
type Durable struct {
	backend     Backend
	ttl         time.Duration
	compression Compression
	now         func() time.Time
	log         *slog.Logger
}

// DurableOption customises a Durable.
type DurableOption func(*Durable)

// WithClock overrides the time source.
func WithClock(now func() time.Time) DurableOption {
	return func(d *Durable) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) DurableOption {
	return func(d *Durable) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDurable wraps backend with the given TTL and compression policy.
func NewDurable(backend Backend, ttl time.Duration, compression Compression, opts ...DurableOption) *Durable {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	d := &Durable{
		backend:     backend,
		ttl:         ttl,
		compression: compression,
		now:         time.Now,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Get returns the plain text stored under key. Expired and corrupt entries
// are deleted and reported as a miss; backend outages are a miss too.
func (d *Durable) Get(ctx context.Context, key string) (string, bool) {
	logCtx := d.log.With("cacheKey", key)

	entry, err := d.backend.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return "", false
	case errors.Is(err, ErrCacheCorrupt):
		logCtx.Warn("Corrupt durable cache entry. Evicting.", "error", err)
		d.evict(ctx, logCtx, key, "corrupt")
		return "", false
	case err != nil:
		logCtx.Error("Durable cache read failed. Treating as miss.", "error", err)
		return "", false
	case entry == nil:
		logCtx.Warn("Durable cache returned no entry. Evicting.")
		d.evict(ctx, logCtx, key, "corrupt")
		return "", false
	}

	text, err := d.decode(entry)
	if err != nil {
		if errors.Is(err, errExpired) {
			logCtx.Info("Durable cache entry expired. Evicting.", "expiresAt", entry.ExpiresAt)
			d.evict(ctx, logCtx, key, "expired")
		} else {
			logCtx.Warn("Invalid durable cache entry. Evicting.", "error", err, "sourceUrl", entry.SourceURL)
			d.evict(ctx, logCtx, key, "corrupt")
		}
		return "", false
	}
	return text, true
}

var errExpired = errors.New("cache entry expired")

func (d *Durable) decode(entry *models.CacheEntry) (string, error) {
	if entry == nil || entry.ExpiresAt.IsZero() {
		return "", fmt.Errorf("%w: missing expiration", ErrCacheCorrupt)
	}
	if entry.IsExpired(d.now().UTC()) {
		return "", errExpired
	}
	if !entry.Compressed {
		return string(entry.Content), nil
	}
	text, err := Decompress(entry.Content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	return text, nil
}

func (d *Durable) evict(ctx context.Context, logCtx *slog.Logger, key, reason string) {
	telemetry.CacheEvictionsTotal.WithLabelValues(telemetry.TierDurable, reason).Inc()
	if err := d.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		logCtx.Error("Failed to delete durable cache entry.", "reason", reason, "error", err)
	}
}

// Put stores text under key, compressing it when the policy says so.
func (d *Durable) Put(ctx context.Context, key, sourceURL, contentType, text string) error {
	now := d.now().UTC()
	entry := &models.CacheEntry{
		SourceURL:   sourceURL,
		ContentType: contentType,
		CreatedAt:   now,
		ExpiresAt:   now.Add(d.ttl),
	}
	if d.compression.ShouldCompress(text) {
		entry.Content = Compress(text)
		entry.Compressed = true
	} else {
		entry.Content = []byte(text)
	}
	if err := d.backend.Put(ctx, key, entry); err != nil {
		return fmt.Errorf("failed to write durable cache entry: %w", err)
	}
	d.log.Debug("Durable cache entry written.",
		"cacheKey", key,
		"compressed", entry.Compressed,
		"storedBytes", len(entry.Content),
		"textBytes", len(text),
	)
	return nil
}

// Delete removes key from the backend. A missing key is not an error.
func (d *Durable) Delete(ctx context.Context, key string) error {
	if err := d.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete durable cache entry: %w", err)
	}
	return nil
}

// Sweep deletes up to limit expired entries when the backend needs it.
// Backends that expire entries natively report zero.
func (d *Durable) Sweep(ctx context.Context, limit int) (int, error) {
	s, ok := d.backend.(Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := s.DeleteExpired(ctx, d.now().UTC(), limit)
	if n > 0 {
		telemetry.CacheEvictionsTotal.WithLabelValues(telemetry.TierDurable, "sweep").Add(float64(n))
	}
	return n, err
}

// Close releases the backend.
func (d *Durable) Close() error {
	return d.backend.Close()
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/Lllllllleong/documentingest/internal/models"
)

// DefaultConnectTimeout bounds the initial ping to valkey.
const DefaultConnectTimeout = 5 * time.Second

// ValkeyConfig holds the connection settings for the valkey backend.
type ValkeyConfig struct {
	Address        string
	Password       string
	KeyPrefix      string
	ConnectTimeout time.Duration
	// DisableClientCache turns off server-assisted client caching, which
	// requires RESP3 tracking support on the server.
	DisableClientCache bool
}

// ValkeyBackend stores cache entries as JSON strings with a native expiry,
// so it never needs sweeping.
type ValkeyBackend struct {
	client valkeylib.Client
	prefix string
	now    func() time.Time
}

// NewValkeyBackend connects to valkey and verifies the connection.
// The caller is responsible for calling Close.
func NewValkeyBackend(cfg ValkeyConfig) (*ValkeyBackend, error) {
	opts := valkeylib.ClientOption{
		InitAddress:  []string{cfg.Address},
		Password:     cfg.Password,
		DisableCache: cfg.DisableClientCache,
	}
	if cfg.DisableClientCache {
		opts.AlwaysRESP2 = true
	}
	client, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", timeout, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &ValkeyBackend{client: client, prefix: prefix + "document_cache:", now: time.Now}, nil
}

// Key returns the valkey key used for a cache key.
func (b *ValkeyBackend) Key(key string) string {
	return b.prefix + key
}

func (b *ValkeyBackend) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	data, err := b.client.Do(ctx, b.client.B().Get().Key(b.Key(key)).Build()).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("valkey get %s: %w", key, err)
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	return &entry, nil
}

// Put overwrites the entry atomically with SET, expiring it when the entry
// does. Writing an already expired entry deletes the key instead.
func (b *ValkeyBackend) Put(ctx context.Context, key string, entry *models.CacheEntry) error {
	ttl := entry.ExpiresAt.Sub(b.now())
	if ttl < time.Second {
		return b.Delete(ctx, key)
	}
	stored := *entry
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = b.now().UTC()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	cmd := b.client.B().Set().Key(b.Key(key)).Value(string(data)).Ex(ttl).Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set %s: %w", key, err)
	}
	return nil
}

func (b *ValkeyBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Do(ctx, b.client.B().Del().Key(b.Key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("valkey del %s: %w", key, err)
	}
	return nil
}

func (b *ValkeyBackend) Close() error {
	b.client.Close()
	return nil
}

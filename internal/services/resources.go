package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/documentingest/internal/cache"
	"github.com/Lllllllleong/documentingest/internal/config"
	"github.com/Lllllllleong/documentingest/internal/document"
	"github.com/Lllllllleong/documentingest/internal/gcp"
	"github.com/Lllllllleong/documentingest/internal/telemetry"
)

// Resources holds the process-wide clients shared by a function. They are
// created once at cold start and released by Close.
//
// Backend is handed to a cache.Durable, which owns it from then on; Close
// releases only the GCP clients and the tracer.
type Resources struct {
	Storage   *storage.Client
	Firestore *firestore.Client
	Backend   cache.Backend

	shutdownTracing func(context.Context) error
	closeOnce       sync.Once
	closeErr        error
}

// loadConfig reads and validates the environment and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	telemetry.LogLevel.Set(cfg.LogLevel)
	return cfg, nil
}

// NewResources starts tracing and creates the storage client and the
// durable cache backend concurrently.
func NewResources(ctx context.Context, cfg *config.Config) (*Resources, error) {
	shutdown, err := telemetry.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise tracing: %w", err)
	}
	r := &Resources{shutdownTracing: shutdown}

	// Clients keep the context for token refresh, so it must outlive Wait.
	var g errgroup.Group
	g.Go(func() error {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create Storage client: %w", err)
		}
		r.Storage = client
		return nil
	})
	g.Go(func() error {
		switch cfg.Cache.Backend {
		case config.BackendValkey:
			backend, err := cache.NewValkeyBackend(cache.ValkeyConfig{
				Address:   cfg.Cache.ValkeyAddress,
				Password:  cfg.Cache.ValkeyPassword,
				KeyPrefix: cfg.Cache.ValkeyKeyPrefix,
			})
			if err != nil {
				return fmt.Errorf("failed to create valkey backend: %w", err)
			}
			r.Backend = backend
		default:
			client, err := gcp.OpenCacheDatabase(ctx, cfg.ProjectID, cfg.Cache.FirestoreDatabase)
			if err != nil {
				return err
			}
			r.Firestore = client
			r.Backend = cache.NewFirestoreBackend(client, cfg.Cache.FirestoreCollection)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if r.Backend != nil {
			_ = r.Backend.Close()
		}
		_ = r.Close()
		return nil, err
	}

	slog.Info("Resources initialized.", "cacheBackend", cfg.Cache.Backend, "tracing", cfg.Telemetry.OTLPEndpoint != "")
	return r, nil
}

// NewDurable wraps the backend in the configured expiry and compression policy.
func (r *Resources) NewDurable(cfg config.CacheConfig) *cache.Durable {
	return cache.NewDurable(r.Backend, cfg.TTL, cache.NewCompression(cfg.CompressionThreshold))
}

// NewProcessor builds the document pipeline on top of the shared clients.
func (r *Resources) NewProcessor(cfg *config.Config) (*document.Processor, error) {
	fetcher := document.NewFetcher(gcp.NewObjectStore(r.Storage), telemetry.NewHTTPClient(cfg.Fetch.Timeout))
	fetcher.Timeout = cfg.Fetch.Timeout
	fetcher.MaxAttempts = cfg.Fetch.MaxRetries
	fetcher.BaseDelay = cfg.Fetch.BaseDelay
	fetcher.MaxDelay = cfg.Fetch.MaxDelay

	memory := cache.NewMemory(cfg.Cache.MemorySize)
	memory.OnEvict(func(string) {
		telemetry.CacheEvictionsTotal.WithLabelValues(telemetry.TierMemory, "capacity").Inc()
	})

	return document.New(document.Deps{
		Fetcher:   fetcher,
		Extractor: document.NewExtractor(),
		Memory:    memory,
		Durable:   r.NewDurable(cfg.Cache),
	}, document.Options{})
}

// Close flushes traces and closes the GCP clients. It is safe to call more
// than once.
func (r *Resources) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		if r.shutdownTracing != nil {
			if err := r.shutdownTracing(context.Background()); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
			}
		}
		if r.Firestore != nil {
			if err := r.Firestore.Close(); err != nil {
				errs = append(errs, fmt.Errorf("firestore close: %w", err))
			}
		}
		if r.Storage != nil {
			if err := r.Storage.Close(); err != nil {
				errs = append(errs, fmt.Errorf("storage close: %w", err))
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

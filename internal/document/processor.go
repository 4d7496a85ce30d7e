// Package document turns document references into plain text through a
// two-tier cache: an in-process LRU in front of a durable store, with fetch
// and extraction on a miss.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Lllllllleong/documentingest/internal/cache"
	"github.com/Lllllllleong/documentingest/internal/telemetry"
)

// ErrClosed is returned by Process after Close.
var ErrClosed = errors.New("document processor closed")

// Source fetches raw document bytes.
type Source interface {
	Fetch(ctx context.Context, reference string) (*Fetched, error)
}

// TextExtractor converts raw bytes of an allow-listed format into text.
type TextExtractor interface {
	Extract(data []byte, format Format) (string, error)
}

// DurableCache is the second cache tier. Get never fails: every problem
// reading an entry is a miss.
type DurableCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, sourceURL, contentType, text string) error
	Close() error
}

// Deps are the collaborators of a Processor. Memory defaults to an LRU of
// cache.DefaultMemorySize entries.
type Deps struct {
	Fetcher   Source
	Extractor TextExtractor
	Memory    *cache.Memory
	Durable   DurableCache
}

// Options tune a Processor.
type Options struct {
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Result is the outcome of a successful Process call.
type Result struct {
	Text     string
	CacheKey string
	// Tier is telemetry.TierMemory or TierDurable for cache hits and
	// TierNone when the document was fetched.
	Tier string
	// ContentType is empty for cache hits.
	ContentType string
}

// Processor is the single entry point of the pipeline. It is safe for
// concurrent use.
type Processor struct {
	fetcher   Source
	extractor TextExtractor
	memory    *cache.Memory
	durable   DurableCache
	log       *slog.Logger
	tracer    trace.Tracer

	flight singleflight.Group
	// loadMu orders loads.Add against the closed flag so Close can wait
	// for detached loads.
	loadMu    sync.Mutex
	loads     sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New wires a Processor from explicitly constructed collaborators.
func New(deps Deps, opts Options) (*Processor, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("document: fetcher is required")
	}
	if deps.Extractor == nil {
		return nil, errors.New("document: extractor is required")
	}
	if deps.Durable == nil {
		return nil, errors.New("document: durable cache is required")
	}
	if deps.Memory == nil {
		deps.Memory = cache.NewMemory(cache.DefaultMemorySize)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer()
	}
	return &Processor{
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		memory:    deps.Memory,
		durable:   deps.Durable,
		log:       opts.Logger,
		tracer:    opts.Tracer,
	}, nil
}

// Process returns the plain text of the document behind reference, serving
// it from the in-process cache, then the durable cache, and otherwise
// fetching and extracting it and writing both tiers.
//
// Concurrent calls for the same reference share one load. The load runs
// detached from the caller's cancellation; a cancelled caller stops waiting
// but the load completes and populates the caches.
func (p *Processor) Process(ctx context.Context, reference string) (*Result, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	key := KeyFor(reference)
	ctx, span := p.tracer.Start(ctx, "document.process", trace.WithAttributes(
		attribute.String("document.reference", reference),
		attribute.String("document.cache_key", key),
	))
	defer span.End()
	logCtx := p.log.With("reference", reference, "cacheKey", key)

	res, err := p.process(ctx, logCtx, reference, key)
	if err != nil {
		logCtx.Error("Document processing failed.", "error", err)
		telemetry.ProcessTotal.WithLabelValues(kindLabel(err)).Inc()
		span.SetAttributes(
			attribute.String("cache.tier", telemetry.TierNone),
			attribute.Bool("error", true),
			attribute.String("error.message", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	telemetry.ProcessTotal.WithLabelValues("success").Inc()
	telemetry.CacheLookupsTotal.WithLabelValues(res.Tier).Inc()
	span.SetAttributes(
		attribute.String("cache.tier", res.Tier),
		attribute.Bool("error", false),
	)
	if res.ContentType != "" {
		span.SetAttributes(attribute.String("document.content_type", res.ContentType))
	}
	return res, nil
}

func (p *Processor) process(ctx context.Context, logCtx *slog.Logger, reference, key string) (*Result, error) {
	if text, ok := p.memory.Get(key); ok {
		logCtx.Debug("In-process cache hit.")
		return &Result{Text: text, CacheKey: key, Tier: telemetry.TierMemory}, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := p.flight.DoChan(key, func() (_ interface{}, err error) {
		if !p.startLoad() {
			return nil, ErrClosed
		}
		defer p.loads.Done()
		// singleflight re-raises panics on a fresh goroutine.
		defer func() {
			if r := recover(); r != nil {
				err = newError(ErrExtractionFailed, reference, fmt.Errorf("document load panic: %v", r))
			}
		}()
		return p.load(loadCtx, logCtx, reference, key)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*Result)
		if r.Shared {
			logCtx.Debug("Joined an in-flight load.", "tier", res.Tier)
		}
		return &res, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for document load: %w", ctx.Err())
	}
}

func (p *Processor) startLoad() bool {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if p.closed.Load() {
		return false
	}
	p.loads.Add(1)
	return true
}

// load runs once per key at a time.
func (p *Processor) load(ctx context.Context, logCtx *slog.Logger, reference, key string) (*Result, error) {
	// A load that finished just before this one started has already
	// populated memory.
	if text, ok := p.memory.Get(key); ok {
		return &Result{Text: text, CacheKey: key, Tier: telemetry.TierMemory}, nil
	}

	if text, ok := p.durableGet(ctx, key); ok {
		logCtx.Info("Durable cache hit.")
		p.memory.Put(key, text)
		return &Result{Text: text, CacheKey: key, Tier: telemetry.TierDurable}, nil
	}

	fetched, err := p.fetcher.Fetch(ctx, reference)
	if err != nil {
		if KindOf(err) == nil {
			err = newError(ErrFetchFailed, reference, err)
		}
		return nil, err
	}
	logCtx = logCtx.With("contentType", fetched.ContentType)

	format, ok := ParseFormat(fetched.ContentType)
	if !ok {
		return nil, newError(ErrUnsupportedFormat, reference, fmt.Errorf("content type %q is not allowed", fetched.ContentType))
	}

	text, err := p.extract(ctx, fetched.Data, format)
	if err != nil {
		return nil, newError(ErrExtractionFailed, reference, err)
	}
	logCtx.Info("Text extracted.", "format", format.String(), "characters", len(text), "fetchAttempts", fetched.Attempts)

	if err := p.durablePut(ctx, key, reference, fetched.ContentType, text); err != nil {
		logCtx.Error("Failed to write durable cache. Continuing.", "error", err)
	}
	p.memory.Put(key, text)

	return &Result{Text: text, CacheKey: key, Tier: telemetry.TierNone, ContentType: fetched.ContentType}, nil
}

func (p *Processor) durableGet(ctx context.Context, key string) (string, bool) {
	ctx, span := p.tracer.Start(ctx, "cache.durable.get")
	defer span.End()
	text, ok := p.durable.Get(ctx, key)
	span.SetAttributes(attribute.Bool("cache.hit", ok))
	return text, ok
}

func (p *Processor) durablePut(ctx context.Context, key, reference, contentType, text string) error {
	ctx, span := p.tracer.Start(ctx, "cache.durable.put")
	defer span.End()
	if err := p.durable.Put(ctx, key, reference, contentType, text); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Processor) extract(ctx context.Context, data []byte, format Format) (text string, err error) {
	_, span := p.tracer.Start(ctx, "document.extract", trace.WithAttributes(
		attribute.String("document.format", format.String()),
		attribute.Int("document.bytes", len(data)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extractor panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	text, err = p.extractor.Extract(data, format)
	if err == nil && text == "" {
		err = errors.New("document contains no extractable text")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// Invalidate drops reference from the in-process cache only.
func (p *Processor) Invalidate(reference string) {
	p.memory.Delete(KeyFor(reference))
}

// Close rejects new calls, waits for in-flight loads to finish, then clears
// the in-process cache and closes the durable cache. It is safe to call
// more than once.
func (p *Processor) Close() error {
	p.closeOnce.Do(func() {
		p.loadMu.Lock()
		p.closed.Store(true)
		p.loadMu.Unlock()
		p.loads.Wait()

		p.memory.Clear()
		if err := p.durable.Close(); err != nil {
			p.closeErr = fmt.Errorf("failed to close durable cache: %w", err)
		}
	})
	return p.closeErr
}

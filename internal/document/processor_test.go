package document

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Lllllllleong/documentingest/internal/cache"
	"github.com/Lllllllleong/documentingest/internal/models"
	"github.com/Lllllllleong/documentingest/internal/telemetry"
)

type fakeSource struct {
	mu    sync.Mutex
	docs  map[string]*Fetched
	calls int
	gate  chan struct{}
}

func (s *fakeSource) Fetch(_ context.Context, reference string) (*Fetched, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.gate != nil {
		<-s.gate
	}
	if strings.HasPrefix(reference, "gs://") && !strings.Contains(strings.TrimPrefix(reference, "gs://"), "/") {
		return nil, newError(ErrInvalidReference, reference, nil)
	}
	doc, ok := s.docs[reference]
	if !ok {
		return nil, newError(ErrFetchFailed, reference, errors.New("404"))
	}
	return doc, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeExtractor returns the document bytes as text.
type fakeExtractor struct {
	mu     sync.Mutex
	calls  int
	err    error
	panics bool
}

func (e *fakeExtractor) Extract(data []byte, _ Format) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.panics {
		panic("index out of range")
	}
	if e.err != nil {
		return "", e.err
	}
	return string(data), nil
}

func (e *fakeExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// memBackend is an in-memory cache.Backend.
type memBackend struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	deletes []string
	closes  int
	putErr  error
}

func newMemBackend() *memBackend {
	return &memBackend{entries: map[string]*models.CacheEntry{}}
}

func (b *memBackend) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (b *memBackend) Put(_ context.Context, key string, entry *models.CacheEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	cp := *entry
	b.entries[key] = &cp
	return nil
}

func (b *memBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, key)
	delete(b.entries, key)
	return nil
}

func (b *memBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func (b *memBackend) entry(key string) *models.CacheEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[key]
}

type harness struct {
	proc      *Processor
	source    *fakeSource
	extractor *fakeExtractor
	memory    *cache.Memory
	backend   *memBackend
	durable   *cache.Durable
	spans     *tracetest.SpanRecorder
}

func newHarness(t *testing.T, docs map[string]*Fetched) *harness {
	t.Helper()
	h := &harness{
		source:    &fakeSource{docs: docs},
		extractor: &fakeExtractor{},
		memory:    cache.NewMemory(cache.DefaultMemorySize),
		backend:   newMemBackend(),
		spans:     tracetest.NewSpanRecorder(),
	}
	h.durable = cache.NewDurable(h.backend, cache.DefaultTTL, cache.NewCompression(cache.DefaultCompressionThreshold),
		cache.WithLogger(discardLogger()))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))

	proc, err := New(Deps{
		Fetcher:   h.source,
		Extractor: h.extractor,
		Memory:    h.memory,
		Durable:   h.durable,
	}, Options{Logger: discardLogger(), Tracer: tp.Tracer("test")})
	require.NoError(t, err)
	h.proc = proc
	return h
}

func (h *harness) span(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	ended := h.spans.Ended()
	for i := len(ended) - 1; i >= 0; i-- {
		if ended[i].Name() == name {
			return ended[i]
		}
	}
	t.Fatalf("span %q not recorded", name)
	return nil
}

func spanAttr(s sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

const (
	pdfRef  = "https://example.com/cv.pdf"
	docxRef = "gs://uploads/jd.docx"
	txtRef  = "https://example.com/notes.txt"
)

func testDocs() map[string]*Fetched {
	return map[string]*Fetched{
		pdfRef:  {Data: []byte("Jane Doe\nGo engineer"), ContentType: MIMEPDF, Attempts: 1},
		docxRef: {Data: []byte("Senior Go role"), ContentType: MIMEDOCX, Attempts: 1},
		txtRef:  {Data: []byte("plain"), ContentType: "text/plain; charset=utf-8", Attempts: 1},
	}
}

func TestProcessColdCachePopulatesBothTiers(t *testing.T) {
	h := newHarness(t, testDocs())
	ctx := context.Background()

	res, err := h.proc.Process(ctx, pdfRef)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nGo engineer", res.Text)
	assert.Equal(t, telemetry.TierNone, res.Tier)
	assert.Equal(t, KeyFor(pdfRef), res.CacheKey)
	assert.Equal(t, MIMEPDF, res.ContentType)

	cached, ok := h.memory.Get(res.CacheKey)
	assert.True(t, ok)
	assert.Equal(t, res.Text, cached)

	stored := h.backend.entry(res.CacheKey)
	require.NotNil(t, stored)
	assert.Equal(t, pdfRef, stored.SourceURL)
	assert.Equal(t, MIMEPDF, stored.ContentType)
	assert.False(t, stored.Compressed)
	assert.Equal(t, stored.CreatedAt.Add(cache.DefaultTTL), stored.ExpiresAt)

	span := h.span(t, "document.process")
	tier, _ := spanAttr(span, "cache.tier")
	assert.Equal(t, telemetry.TierNone, tier.AsString())
	ref, _ := spanAttr(span, "document.reference")
	assert.Equal(t, pdfRef, ref.AsString())
	ct, _ := spanAttr(span, "document.content_type")
	assert.Equal(t, MIMEPDF, ct.AsString())
	isErr, _ := spanAttr(span, "error")
	assert.False(t, isErr.AsBool())
	h.span(t, "cache.durable.get")
	h.span(t, "document.extract")
	h.span(t, "cache.durable.put")
}

func TestProcessWarmCacheSkipsFetch(t *testing.T) {
	h := newHarness(t, testDocs())
	ctx := context.Background()

	first, err := h.proc.Process(ctx, docxRef)
	require.NoError(t, err)
	second, err := h.proc.Process(ctx, docxRef)
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, telemetry.TierMemory, second.Tier)
	assert.Equal(t, 1, h.source.callCount())
	assert.Equal(t, 1, h.extractor.callCount())

	tier, _ := spanAttr(h.span(t, "document.process"), "cache.tier")
	assert.Equal(t, telemetry.TierMemory, tier.AsString())
}

func TestProcessDurableHitWithCompression(t *testing.T) {
	h := newHarness(t, testDocs())
	ctx := context.Background()
	big := strings.Repeat("experience ", 100_000) // 1.1MB
	key := KeyFor(pdfRef)

	require.NoError(t, h.durable.Put(ctx, key, pdfRef, MIMEPDF, big))
	require.True(t, h.backend.entry(key).Compressed)
	require.Zero(t, h.memory.Len())

	res, err := h.proc.Process(ctx, pdfRef)
	require.NoError(t, err)
	assert.Equal(t, big, res.Text)
	assert.Equal(t, telemetry.TierDurable, res.Tier)
	assert.Zero(t, h.source.callCount())

	cached, ok := h.memory.Get(key)
	assert.True(t, ok)
	assert.Equal(t, big, cached)
}

func TestProcessRejectsUnsupportedFormat(t *testing.T) {
	h := newHarness(t, testDocs())

	_, err := h.proc.Process(context.Background(), txtRef)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Zero(t, h.extractor.callCount(), "extractor must not see unsupported types")
	assert.Zero(t, h.memory.Len())
	assert.Nil(t, h.backend.entry(KeyFor(txtRef)))

	span := h.span(t, "document.process")
	isErr, _ := spanAttr(span, "error")
	assert.True(t, isErr.AsBool())
	msg, _ := spanAttr(span, "error.message")
	assert.Contains(t, msg.AsString(), "unsupported file format")
}

func TestProcessInvalidReference(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, nil)
	proc, err := New(Deps{
		Fetcher:   newTestFetcher(store),
		Extractor: h.extractor,
		Durable:   h.durable,
	}, Options{Logger: discardLogger()})
	require.NoError(t, err)

	_, err = proc.Process(context.Background(), "gs://bucketonly")
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.Equal(t, ErrInvalidReference, KindOf(err))
	assert.Zero(t, store.callCount())
}

func TestProcessExpiredDurableEntryRefetches(t *testing.T) {
	h := newHarness(t, testDocs())
	key := KeyFor(pdfRef)
	now := time.Now().UTC()
	h.backend.entries[key] = &models.CacheEntry{
		Content:     []byte("stale text"),
		SourceURL:   pdfRef,
		ContentType: MIMEPDF,
		CreatedAt:   now.AddDate(0, 0, -61),
		ExpiresAt:   now.AddDate(0, 0, -31),
	}

	res, err := h.proc.Process(context.Background(), pdfRef)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nGo engineer", res.Text)
	assert.Equal(t, telemetry.TierNone, res.Tier)
	assert.Equal(t, 1, h.source.callCount())
	assert.Contains(t, h.backend.deletes, key)

	fresh := h.backend.entry(key)
	require.NotNil(t, fresh)
	assert.True(t, fresh.ExpiresAt.After(now))
}

func TestProcessExtractionFailures(t *testing.T) {
	h := newHarness(t, testDocs())
	h.extractor.err = errors.New("xref table broken")

	_, err := h.proc.Process(context.Background(), pdfRef)
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Zero(t, h.memory.Len())
	assert.Nil(t, h.backend.entry(KeyFor(pdfRef)))

	empty := newHarness(t, map[string]*Fetched{pdfRef: {Data: nil, ContentType: MIMEPDF}})
	_, err = empty.proc.Process(context.Background(), pdfRef)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestProcessExtractorPanicBecomesExtractionFailure(t *testing.T) {
	h := newHarness(t, testDocs())
	h.extractor.panics = true

	_, err := h.proc.Process(context.Background(), pdfRef)
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Zero(t, h.memory.Len())
	assert.Nil(t, h.backend.entry(KeyFor(pdfRef)))

	span := h.span(t, "document.extract")
	assert.Equal(t, "extractor panic: index out of range", span.Status().Description)
}

func TestProcessTruncatedPDFOverHTTP(t *testing.T) {
	truncated := buildPDF(t, "Hello")[:60]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", MIMEPDF)
		_, _ = w.Write(truncated)
	}))
	defer srv.Close()

	proc, err := New(Deps{
		Fetcher:   newTestFetcher(nil),
		Extractor: NewExtractor(),
		Durable:   cache.NewDurable(newMemBackend(), cache.DefaultTTL, cache.NewCompression(0), cache.WithLogger(discardLogger())),
	}, Options{Logger: discardLogger()})
	require.NoError(t, err)
	defer proc.Close()

	_, err = proc.Process(context.Background(), srv.URL+"/cv.pdf")
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestProcessFetchFailure(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.proc.Process(context.Background(), "https://example.com/gone.pdf")
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Zero(t, h.extractor.callCount())
}

func TestProcessDurableWriteFailureStillReturnsText(t *testing.T) {
	h := newHarness(t, testDocs())
	h.backend.putErr = errors.New("quota exceeded")

	res, err := h.proc.Process(context.Background(), pdfRef)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nGo engineer", res.Text)
	_, ok := h.memory.Get(res.CacheKey)
	assert.True(t, ok)
}

func TestProcessSingleFlight(t *testing.T) {
	h := newHarness(t, testDocs())
	h.source.gate = make(chan struct{})

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.proc.Process(context.Background(), pdfRef)
			errs[i] = err
			if err == nil {
				results[i] = res.Text
			}
		}(i)
	}

	// Let the first load start, then release it.
	for h.source.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(h.source.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Jane Doe\nGo engineer", results[i])
	}
	assert.Equal(t, 1, h.source.callCount())
	assert.Equal(t, 1, h.extractor.callCount())
}

func TestProcessCallerCancelDoesNotAbortLoad(t *testing.T) {
	h := newHarness(t, testDocs())
	h.source.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.proc.Process(ctx, pdfRef)
		done <- err
	}()
	for h.source.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(h.source.gate)
	assert.Eventually(t, func() bool {
		_, ok := h.memory.Get(KeyFor(pdfRef))
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestProcessorClose(t *testing.T) {
	h := newHarness(t, testDocs())
	_, err := h.proc.Process(context.Background(), pdfRef)
	require.NoError(t, err)

	require.NoError(t, h.proc.Close())
	require.NoError(t, h.proc.Close())
	assert.Equal(t, 1, h.backend.closes)
	assert.Zero(t, h.memory.Len())

	_, err = h.proc.Process(context.Background(), pdfRef)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestProcessorCloseWaitsForInflightLoad(t *testing.T) {
	h := newHarness(t, testDocs())
	h.source.gate = make(chan struct{})

	processed := make(chan error, 1)
	go func() {
		_, err := h.proc.Process(context.Background(), pdfRef)
		processed <- err
	}()
	for h.source.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	closed := make(chan error, 1)
	go func() { closed <- h.proc.Close() }()
	assert.Never(t, func() bool { return len(closed) > 0 }, 30*time.Millisecond, 5*time.Millisecond)

	_, err := h.proc.Process(context.Background(), docxRef)
	assert.ErrorIs(t, err, ErrClosed)

	close(h.source.gate)
	require.NoError(t, <-processed)
	require.NoError(t, <-closed)

	// The load finished its write-through before the durable cache closed
	// and the memory tier was cleared.
	assert.NotNil(t, h.backend.entry(KeyFor(pdfRef)))
	assert.Equal(t, 1, h.backend.closes)
	assert.Zero(t, h.memory.Len())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
	_, err = New(Deps{Fetcher: &fakeSource{}}, Options{})
	assert.Error(t, err)
	_, err = New(Deps{Fetcher: &fakeSource{}, Extractor: &fakeExtractor{}}, Options{})
	assert.Error(t, err)
}

func TestProcessEndToEndOverHTTP(t *testing.T) {
	pdfBytes := buildPDF(t, "Curriculum", "Vitae")
	docxBytes := buildDOCX(t, "Job description", "Go and GCP")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cv.pdf":
			w.Header().Set("Content-Type", MIMEPDF)
			_, _ = w.Write(pdfBytes)
		case "/jd.docx":
			w.Header().Set("Content-Type", MIMEOctetStream)
			_, _ = w.Write(docxBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	backend := newMemBackend()
	proc, err := New(Deps{
		Fetcher:   newTestFetcher(nil),
		Extractor: NewExtractor(),
		Durable:   cache.NewDurable(backend, cache.DefaultTTL, cache.Compression{Threshold: 1}, cache.WithLogger(discardLogger())),
	}, Options{Logger: discardLogger()})
	require.NoError(t, err)
	defer proc.Close()

	res, err := proc.Process(context.Background(), srv.URL+"/cv.pdf")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Curriculum")
	assert.Contains(t, res.Text, "Vitae")

	res, err = proc.Process(context.Background(), srv.URL+"/jd.docx")
	require.NoError(t, err)
	assert.Equal(t, "Job description\nGo and GCP", res.Text)
	assert.True(t, backend.entry(res.CacheKey).Compressed, "a one-byte threshold compresses everything")
}

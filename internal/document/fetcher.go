package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/googleapi"

	"github.com/Lllllllleong/documentingest/internal/gcp"
	"github.com/Lllllllleong/documentingest/internal/telemetry"
)

// Fetch defaults. With all attempts timing out a fetch is bounded by
// 3 x 30s plus 1s + 2s of backoff.
const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 1 * time.Second
	DefaultMaxDelay     = 10 * time.Second
)

const (
	sourceGCS  = "gcs"
	sourceHTTP = "http"
)

// ObjectStore is the read side of an object-storage bucket.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, object string) ([]byte, string, error)
}

// Fetched is a retrieved document.
type Fetched struct {
	Data        []byte
	ContentType string
	Attempts    int
}

// Fetcher retrieves documents from GCS or over HTTP(S), retrying transient
// failures with exponential backoff. The zero value of any tuning field
// selects its default.
type Fetcher struct {
	Store       ObjectStore
	Client      *http.Client
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// NewFetcher returns a Fetcher with default tuning. A nil client gets an
// instrumented client with the default timeout.
func NewFetcher(store ObjectStore, client *http.Client) *Fetcher {
	if client == nil {
		client = telemetry.NewHTTPClient(DefaultFetchTimeout)
	}
	return &Fetcher{Store: store, Client: client}
}

// statusError is a non-2xx HTTP response.
type statusError struct {
	Code   int
	Status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}

// Fetch returns the bytes and content type behind reference.
func (f *Fetcher) Fetch(ctx context.Context, reference string) (*Fetched, error) {
	if gcp.IsGCSURI(reference) {
		bucket, object, err := gcp.ParseGCSURI(reference)
		if err != nil {
			return nil, newError(ErrInvalidReference, reference, err)
		}
		if f.Store == nil {
			return nil, newError(ErrUnsupportedReference, reference, errors.New("no object store configured"))
		}
		return f.fetchGCS(ctx, reference, bucket, object)
	}

	u, err := url.Parse(reference)
	if err != nil || u.Host == "" {
		return nil, newError(ErrInvalidReference, reference, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newError(ErrUnsupportedReference, reference, fmt.Errorf("scheme %q is not supported", u.Scheme))
	}
	return f.fetchHTTP(ctx, reference, u)
}

func (f *Fetcher) fetchGCS(ctx context.Context, reference, bucket, object string) (*Fetched, error) {
	ctx, span := f.tracer().Start(ctx, "document.fetch", trace.WithAttributes(
		attribute.String("fetch.source", sourceGCS),
	))
	defer span.End()

	var res Fetched
	attempts, err := f.retry(ctx, reference, sourceGCS, func(ctx context.Context) error {
		data, contentType, err := f.Store.GetObject(ctx, bucket, object)
		if err != nil {
			return err
		}
		res.Data, res.ContentType = data, contentType
		return nil
	})
	span.SetAttributes(attribute.Int("fetch.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, newError(ErrFetchFailed, reference, err)
	}

	res.Attempts = attempts
	res.ContentType = resolveContentType(res.ContentType, object)
	if res.ContentType == "" {
		res.ContentType = MIMEOctetStream
	}
	span.SetAttributes(attribute.String("document.content_type", res.ContentType))
	return &res, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, reference string, u *url.URL) (*Fetched, error) {
	ctx, span := f.tracer().Start(ctx, "document.fetch", trace.WithAttributes(
		attribute.String("fetch.source", sourceHTTP),
	))
	defer span.End()

	var res Fetched
	attempts, err := f.retry(ctx, reference, sourceHTTP, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reference, nil)
		if err != nil {
			return err
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return &statusError{Code: resp.StatusCode, Status: resp.Status}
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		res.Data, res.ContentType = data, resp.Header.Get("Content-Type")
		return nil
	})
	span.SetAttributes(attribute.Int("fetch.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, newError(ErrFetchFailed, reference, err)
	}

	res.Attempts = attempts
	res.ContentType = resolveContentType(res.ContentType, u.Path)
	if res.ContentType == "" {
		err := errors.New("no content type in response and none inferable from the URL")
		span.SetStatus(codes.Error, err.Error())
		return nil, newError(ErrUnsupportedReference, reference, err)
	}
	span.SetAttributes(attribute.String("document.content_type", res.ContentType))
	return &res, nil
}

// retry runs op until it succeeds, fails permanently, or the attempt budget
// is spent. Each attempt gets its own timeout. It returns the number of
// attempts made.
func (f *Fetcher) retry(ctx context.Context, reference, source string, op func(context.Context) error) (int, error) {
	maxAttempts := orDefault(f.MaxAttempts, DefaultMaxAttempts)
	timeout := orDefault(f.Timeout, DefaultFetchTimeout)
	maxDelay := orDefault(f.MaxDelay, DefaultMaxDelay)
	backoff := min(orDefault(f.BaseDelay, DefaultBaseDelay), maxDelay)
	logCtx := f.logger().With("reference", reference, "source", source)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return op(attemptCtx)
		}()
		if err == nil {
			telemetry.FetchAttemptsTotal.WithLabelValues(source, "success").Inc()
			return attempt, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		if !isTransient(err) {
			telemetry.FetchAttemptsTotal.WithLabelValues(source, "permanent").Inc()
			logCtx.Error("Fetch failed permanently.", "attempt", attempt, "error", err)
			return attempt, err
		}
		telemetry.FetchAttemptsTotal.WithLabelValues(source, "transient").Inc()
		if attempt == maxAttempts {
			break
		}

		logCtx.Warn(
			"Fetch failed, will retry.",
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxDelay)
		case <-ctx.Done():
			logCtx.Error("Context cancelled during backoff. Aborting retries.", "error", ctx.Err())
			return attempt, ctx.Err()
		}
	}
	logCtx.Error("Fetch failed after all retries.", "attempts", maxAttempts, "error", lastErr)
	return maxAttempts, fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}

// isTransient reports whether a failed attempt is worth repeating: network
// errors, timeouts, 5xx and 429 are; other HTTP statuses and missing
// objects are not.
func isTransient(err error) bool {
	if errors.Is(err, gcp.ErrObjectNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return retryableStatus(se.Code)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return retryableStatus(gerr.Code)
	}
	return true
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *Fetcher) tracer() trace.Tracer {
	if f.Tracer != nil {
		return f.Tracer
	}
	return telemetry.Tracer()
}

package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

const gcsScheme = "gs://"

var (
	// ErrInvalidURI is returned for gs:// references that do not split into
	// exactly a non-empty bucket and a non-empty object path.
	ErrInvalidURI = errors.New("invalid GCS URI")
	// ErrObjectNotFound is returned when the object or bucket does not exist.
	ErrObjectNotFound = errors.New("GCS object not found")
)

// IsGCSURI reports whether ref uses the gs:// scheme.
func IsGCSURI(ref string) bool {
	return strings.HasPrefix(ref, gcsScheme)
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("%w: %q lacks the %s scheme", ErrInvalidURI, uri, gcsScheme)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, gcsScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q must look like gs://bucket/object", ErrInvalidURI, uri)
	}
	return parts[0], parts[1], nil
}

// FormatGCSURI is the inverse of ParseGCSURI.
func FormatGCSURI(bucket, object string) string {
	return fmt.Sprintf("%s%s/%s", gcsScheme, bucket, object)
}

// ObjectStore reads and writes whole GCS objects through one shared client.
type ObjectStore struct {
	client *storage.Client
}

// NewObjectStore wraps client; the caller keeps ownership of it.
func NewObjectStore(client *storage.Client) *ObjectStore {
	return &ObjectStore{client: client}
}

// GetObject downloads an object and returns its bytes and stored content type
// (empty when the object has none).
func (s *ObjectStore) GetObject(ctx context.Context, bucket, object string) ([]byte, string, error) {
	reader, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrObjectNotFound, FormatGCSURI(bucket, object), err)
		}
		return nil, "", fmt.Errorf("failed to get GCS object reader for %s: %w", FormatGCSURI(bucket, object), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read GCS object %s: %w", FormatGCSURI(bucket, object), err)
	}
	return data, reader.Attrs.ContentType, nil
}

// PutObject writes data only if the object doesn't already exist. An
// existing object is not a failure: writes are idempotent by name.
func (s *ObjectStore) PutObject(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	writer := s.client.Bucket(bucket).Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "gcsUri", FormatGCSURI(bucket, object))
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "gcsUri", FormatGCSURI(bucket, object))
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

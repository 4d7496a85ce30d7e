package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/Lllllllleong/documentingest/internal/document"
	"github.com/Lllllllleong/documentingest/internal/gcp"
	"github.com/Lllllllleong/documentingest/internal/models"
)

// ErrInvalidRequest marks a malformed function payload.
var ErrInvalidRequest = errors.New("invalid request")

const (
	uploadPrefix    = "uploads"
	defaultFilename = "document"
	archiveMIME     = "text/plain; charset=utf-8"
)

type documentProcessor interface {
	Process(ctx context.Context, reference string) (*document.Result, error)
	Close() error
}

type objectWriter interface {
	PutObject(ctx context.Context, bucket, object string, data []byte, contentType string) error
}

type ProcessorConfig struct {
	UploadBucket  string
	ArchiveBucket string
}

// ProcessorFunction serves the document-processor HTTP function.
type ProcessorFunction struct {
	processor documentProcessor
	objects   objectWriter
	config    ProcessorConfig
	resources *Resources
	newID     func() string
}

func NewProcessorFunction(ctx context.Context) (*ProcessorFunction, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	res, err := NewResources(ctx, cfg)
	if err != nil {
		return nil, err
	}
	proc, err := res.NewProcessor(cfg)
	if err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("failed to create document processor: %w", err)
	}

	f := &ProcessorFunction{
		processor: proc,
		objects:   gcp.NewObjectStore(res.Storage),
		config: ProcessorConfig{
			UploadBucket:  cfg.Buckets.Upload,
			ArchiveBucket: cfg.Buckets.Archive,
		},
		resources: res,
		newID:     uuid.NewString,
	}
	slog.Info("Document processor initialized.", "uploadBucket", cfg.Buckets.Upload, "archiveBucket", cfg.Buckets.Archive)
	return f, nil
}

// Process resolves the request to a document reference, uploading inline
// content first, and returns the extracted text.
func (f *ProcessorFunction) Process(ctx context.Context, req *models.ProcessDocumentRequest) (*models.ProcessDocumentResponse, error) {
	if (req.URL == "") == (len(req.Content) == 0) {
		return nil, fmt.Errorf("%w: exactly one of url or content must be set", ErrInvalidRequest)
	}

	reference := strings.TrimSpace(req.URL)
	if len(req.Content) > 0 {
		var err error
		if reference, err = f.upload(ctx, req); err != nil {
			return nil, err
		}
	}
	logCtx := slog.With("reference", reference)

	res, err := f.processor.Process(ctx, reference)
	if err != nil {
		// Logged with its cause inside the processor.
		return nil, err
	}

	resp := &models.ProcessDocumentResponse{
		Status:     "success",
		Reference:  reference,
		CacheKey:   res.CacheKey,
		Text:       res.Text,
		Characters: len([]rune(res.Text)),
	}
	if req.ArchiveFolder != "" {
		uri, err := f.archive(ctx, req.ArchiveFolder, res)
		if err != nil {
			logCtx.Warn("Failed to archive extracted text.", "error", err)
		} else {
			resp.ArchiveURI = uri
		}
	}
	logCtx.Info("Document processed.", "cacheTier", res.Tier, "characters", resp.Characters)
	return resp, nil
}

func (f *ProcessorFunction) upload(ctx context.Context, req *models.ProcessDocumentRequest) (string, error) {
	if f.config.UploadBucket == "" {
		return "", fmt.Errorf("%w: inline content requires UPLOAD_BUCKET", ErrInvalidRequest)
	}

	name := path.Base(strings.ReplaceAll(req.Filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = defaultFilename
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = document.GuessContentType(name)
	}
	object := path.Join(uploadPrefix, f.newID(), name)

	if err := f.objects.PutObject(ctx, f.config.UploadBucket, object, req.Content, contentType); err != nil {
		slog.Error("Failed to upload document content.", "gcsObject", object, "error", err)
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	reference := gcp.FormatGCSURI(f.config.UploadBucket, object)
	slog.Info("Uploaded inline document.", "reference", reference, "bytes", len(req.Content))
	return reference, nil
}

// archive writes the text to <folder>/<cacheKey>.txt unless it already exists.
func (f *ProcessorFunction) archive(ctx context.Context, folder string, res *document.Result) (string, error) {
	if f.config.ArchiveBucket == "" {
		return "", errors.New("ARCHIVE_BUCKET is not configured")
	}
	cleaned := strings.Trim(path.Clean("/"+folder), "/")
	if cleaned == "" {
		return "", fmt.Errorf("archive folder %q is empty after cleaning", folder)
	}
	object := path.Join(cleaned, res.CacheKey+".txt")
	if err := f.objects.PutObject(ctx, f.config.ArchiveBucket, object, []byte(res.Text), archiveMIME); err != nil {
		return "", err
	}
	return gcp.FormatGCSURI(f.config.ArchiveBucket, object), nil
}

// Close releases the processor and the shared clients.
func (f *ProcessorFunction) Close() error {
	err := f.processor.Close()
	if f.resources != nil {
		err = errors.Join(err, f.resources.Close())
	}
	return err
}

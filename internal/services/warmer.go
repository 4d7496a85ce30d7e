package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/documentingest/internal/document"
	"github.com/Lllllllleong/documentingest/internal/gcp"
	"github.com/Lllllllleong/documentingest/internal/models"
)

// CacheWarmerFunction extracts newly uploaded documents so the first real
// request is a cache hit.
type CacheWarmerFunction struct {
	processor documentProcessor
	resources *Resources
}

func NewCacheWarmer(ctx context.Context) (*CacheWarmerFunction, error) {
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
	slog.Info("Cache warmer initialized.")
	return &CacheWarmerFunction{processor: proc, resources: res}, nil
}

// Process warms the cache for a finalized object. Objects that are not PDF
// or DOCX by name are ignored.
func (f *CacheWarmerFunction) Process(ctx context.Context, e models.GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if e.Bucket == "" || e.Name == "" {
		logCtx.Error("Event is missing bucket or object name.")
		return fmt.Errorf("%w: event is missing bucket or object name", ErrInvalidRequest)
	}
	if _, ok := document.ParseFormat(document.GuessContentType(e.Name)); !ok {
		logCtx.Info("SKIPPING: Not a supported document.")
		return nil
	}

	res, err := f.processor.Process(ctx, gcp.FormatGCSURI(e.Bucket, e.Name))
	if err != nil {
		return err
	}
	logCtx.Info("Cache warmed.", "cacheKey", res.CacheKey, "cacheTier", res.Tier)
	return nil
}

func (f *CacheWarmerFunction) Close() error {
	err := f.processor.Close()
	if f.resources != nil {
		err = errors.Join(err, f.resources.Close())
	}
	return err
}

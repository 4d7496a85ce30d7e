package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/documentingest/internal/models"
)

type cacheSweeper interface {
	Sweep(ctx context.Context, limit int) (int, error)
	Close() error
}

// CacheSweeperFunction deletes expired durable cache entries on a schedule.
type CacheSweeperFunction struct {
	durable   cacheSweeper
	limit     int
	resources *Resources
}

func NewCacheSweeper(ctx context.Context) (*CacheSweeperFunction, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	res, err := NewResources(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("Cache sweeper initialized.", "batchLimit", cfg.Cache.SweepBatchLimit)
	return &CacheSweeperFunction{
		durable:   res.NewDurable(cfg.Cache),
		limit:     cfg.Cache.SweepBatchLimit,
		resources: res,
	}, nil
}

func (f *CacheSweeperFunction) Process(ctx context.Context) (*models.SweepCacheResponse, error) {
	deleted, err := f.durable.Sweep(ctx, f.limit)
	if err != nil {
		slog.Error("Cache sweep failed.", "deleted", deleted, "error", err)
		return nil, fmt.Errorf("cache sweep failed after %d deletions: %w", deleted, err)
	}
	slog.Info("Cache sweep complete.", "deleted", deleted, "limit", f.limit)
	return &models.SweepCacheResponse{Status: "success", Deleted: deleted}, nil
}

func (f *CacheSweeperFunction) Close() error {
	err := f.durable.Close()
	if f.resources != nil {
		err = errors.Join(err, f.resources.Close())
	}
	return err
}

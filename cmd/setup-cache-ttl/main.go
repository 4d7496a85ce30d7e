// Command setup-cache-ttl enables the Firestore TTL policy on the document
// cache's expiration field. Run it once per project:
//
//	PROJECT_ID=my-project go run ./cmd/setup-cache-ttl
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/documentingest/internal/cache"
	"github.com/Lllllllleong/documentingest/internal/config"
	"github.com/Lllllllleong/documentingest/internal/gcp"
	"github.com/Lllllllleong/documentingest/internal/telemetry"
)

func main() {
	slog.SetDefault(telemetry.NewJSONLogger(os.Stdout))

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("Failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	telemetry.LogLevel.Set(cfg.LogLevel)
	if cfg.ProjectID == "" {
		slog.Error("PROJECT_ID must be set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCtx := slog.With(
		"projectId", cfg.ProjectID,
		"database", cfg.Cache.FirestoreDatabase,
		"collection", cfg.Cache.FirestoreCollection,
		"field", cache.ExpirationField,
	)
	logCtx.Info("Enabling Firestore TTL policy. This can take several minutes.")
	if err := gcp.EnableTTLPolicy(ctx, cfg.ProjectID, cfg.Cache.FirestoreDatabase, cfg.Cache.FirestoreCollection, cache.ExpirationField); err != nil {
		logCtx.Error("Failed to enable TTL policy", "error", err)
		os.Exit(1)
	}
	logCtx.Info("TTL policy enabled.")
}

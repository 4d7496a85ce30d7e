package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documentingest/internal/models"
	"github.com/Lllllllleong/documentingest/internal/services"
	"github.com/Lllllllleong/documentingest/internal/telemetry"
)

var (
	warmerInstance *services.CacheWarmerFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	slog.SetDefault(telemetry.NewJSONLogger(os.Stdout))

	// Register the CloudEvent function for GCS object finalize events.
	functions.CloudEvent("WarmCache", warmCache)
}

// main is required by the Go Functions Framework.
func main() {}

// warmCache is the Cloud Function entry point.
func warmCache(ctx context.Context, e cloudevents.Event) error {
	// Use sync.Once for robust, one-time initialization of clients.
	once.Do(func() {
		warmerInstance, initErr = services.NewCacheWarmer(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning the error marks the invocation as failed.
	return warmerInstance.Process(ctx, gcsEvent)
}

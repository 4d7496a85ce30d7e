package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/documentingest/internal/services"
	"github.com/Lllllllleong/documentingest/internal/telemetry"
)

var (
	sweeperInstance *services.CacheSweeperFunction
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	slog.SetDefault(telemetry.NewJSONLogger(os.Stdout))

	// "HandleSweepCache" is invoked by Cloud Scheduler.
	functions.HTTP("HandleSweepCache", handleSweepCache)
}

// main is required by the Go Functions Framework.
func main() {}

func handleSweepCache(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		sweeperInstance, initErr = services.NewCacheSweeper(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: cache sweeper initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	res, err := sweeperInstance.Process(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error: sweep failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Lllllllleong/documentingest/internal/models"
	"github.com/Lllllllleong/documentingest/internal/services"
	"github.com/Lllllllleong/documentingest/internal/telemetry"
)

// maxRequestBytes bounds the JSON body, including base64 document content.
const maxRequestBytes = 32 << 20

var (
	processorInstance *services.ProcessorFunction
	once              sync.Once
	initErr           error
	metricsHandler    = promhttp.Handler()
)

func init() {
	// --- Set up structured logging ---
	slog.SetDefault(telemetry.NewJSONLogger(os.Stdout))

	// "HandleProcessDocument" is the entry point name configured in GCP.
	functions.HTTP("HandleProcessDocument", handleProcessDocument)
}

// main is required by the Go Functions Framework.
func main() {}

// handleProcessDocument extracts the text of a document given by URL or
// inline content. GET /metrics exposes Prometheus metrics of this instance.
func handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/metrics") {
		metricsHandler.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Use sync.Once for robust, one-time initialization of clients.
	once.Do(func() {
		processorInstance, initErr = services.NewProcessorFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: document processor initialization failed", "error", initErr)
		writeError(w, http.StatusInternalServerError, "failed to initialize service")
		return
	}

	var req models.ProcessDocumentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		writeError(w, http.StatusBadRequest, "could not parse JSON")
		return
	}

	res, err := processorInstance.Process(r.Context(), &req)
	if err != nil {
		// The specific error is already logged inside the Process method.
		writeError(w, services.HTTPStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "reference", res.Reference)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Status: "error", Error: message})
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Lllllllleong/documentragflow/internal/gcp"
	"github.com/Lllllllleong/documentragflow/internal/models"
	"github.com/Lllllllleong/documentragflow/internal/services"
	"github.com/Lllllllleong/documentragflow/internal/web"
)

var (
	chunkerInstance *services.ChunkerFunction
	once            sync.Once
	initErr         error
)

func init() {
	gcp.LoadDotEnv()
	slog.SetDefault(gcp.NewLogger("chunker"))

	functions.HTTP("HandleChunk", otelhttp.NewHandler(http.HandlerFunc(handleChunk), "chunker").ServeHTTP)
}

func main() {}

// handleChunk OCRs one uploaded object and writes its spans.
func handleChunk(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		chunkerInstance, initErr = services.NewChunker(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Chunker initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ChunkerRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		web.WriteError(w, err)
		return
	}

	res, err := chunkerInstance.Process(r.Context(), &req)
	if err != nil {
		// Error is already logged with context in the Process method.
		web.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if res.Status != models.ChunkerStatusSuccess {
		status = http.StatusAccepted
	}
	web.WriteJSON(w, status, res)
}

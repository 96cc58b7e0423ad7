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
	indexerInstance *services.IndexerFunction
	once            sync.Once
	initErr         error
)

func init() {
	gcp.LoadDotEnv()
	slog.SetDefault(gcp.NewLogger("indexer"))

	functions.HTTP("HandleIndex", otelhttp.NewHandler(http.HandlerFunc(handleIndex), "indexer").ServeHTTP)
}

func main() {}

// handleIndex embeds the unindexed spans of one document.
func handleIndex(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		indexerInstance, initErr = services.NewIndexer(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Indexer initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.IndexerRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		web.WriteError(w, err)
		return
	}

	res, err := indexerInstance.Process(r.Context(), &req)
	if err != nil {
		web.WriteError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, res)
}

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
	queryInstance *services.QueryFunction
	once          sync.Once
	initErr       error
)

func init() {
	gcp.LoadDotEnv()
	slog.SetDefault(gcp.NewLogger("query"))

	functions.HTTP("HandleQuery", otelhttp.NewHandler(http.HandlerFunc(handleQuery), "query").ServeHTTP)
}

func main() {}

func handleQuery(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		queryInstance, initErr = services.NewQuery(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Query initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.QueryRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		web.WriteError(w, err)
		return
	}

	res, err := queryInstance.Process(r.Context(), &req)
	if err != nil {
		web.WriteError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, res)
}

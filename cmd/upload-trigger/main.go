package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documentragflow/internal/gcp"
	"github.com/Lllllllleong/documentragflow/internal/services"
)

var (
	triggerInstance *services.UploadTriggerFunction
	once            sync.Once
	initErr         error
)

func init() {
	gcp.LoadDotEnv()
	slog.SetDefault(gcp.NewLogger("upload-trigger"))

	// Register the CloudEvent function. The framework will handle routing the event here.
	functions.CloudEvent("HandleUpload", handleUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// handleUpload starts the ingest workflow for a finalized storage object.
func handleUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		triggerInstance, initErr = services.NewUploadTrigger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning an error marks the invocation failed so the event is redelivered.
	return triggerInstance.Process(ctx, gcsEvent)
}

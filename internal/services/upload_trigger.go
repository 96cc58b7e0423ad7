package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/documentragflow/internal/gcp"
	"github.com/Lllllllleong/documentragflow/internal/models"
	"github.com/Lllllllleong/documentragflow/internal/ocr"
)

// GCSEvent is the payload of a storage object finalized event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// ObjectOpener opens an object for reading.
type ObjectOpener func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// WorkflowStarter starts workflow executions.
type WorkflowStarter interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

type UploadTriggerConfig struct {
	ProjectID        string
	WorkflowID       string
	WorkflowLocation string
	// MaxPages rejects PDFs the OCR engine would refuse in one batch job.
	MaxPages int
}

// UploadTriggerFunction validates an uploaded document and hands it to the ingest workflow.
type UploadTriggerFunction struct {
	open      ObjectOpener
	workflows WorkflowStarter
	config    UploadTriggerConfig
}

func NewUploadTrigger(ctx context.Context) (*UploadTriggerFunction, error) {
	projectID := gcp.GetEnv("GCP_PROJECT", "")
	if projectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT environment variable must be set")
	}

	config := UploadTriggerConfig{
		ProjectID:        projectID,
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "document-ingest"),
		MaxPages:         gcp.GetEnvInt("MAX_PAGES", 500),
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}

	open := func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		return storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	}
	slog.Info("Upload trigger initialized.", "workflowId", config.WorkflowID)
	return NewUploadTriggerWith(open, executionsClient, config), nil
}

func NewUploadTriggerWith(open ObjectOpener, workflows WorkflowStarter, config UploadTriggerConfig) *UploadTriggerFunction {
	return &UploadTriggerFunction{open: open, workflows: workflows, config: config}
}

// Process validates the object and starts one workflow execution for it.
// Objects that can never be ingested are logged and skipped so the event is
// not redelivered.
func (f *UploadTriggerFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if _, err := models.ParseObjectPath(e.Name); err != nil {
		logCtx.Warn("Object is not inside a collection folder. Skipping.", "error", err)
		return nil
	}

	pageCount := 1
	if ocr.MIMETypeFor(e.Name) == "application/pdf" {
		n, err := f.inspectPDF(ctx, logCtx, e)
		if err != nil {
			logCtx.Warn("Upload rejected. Skipping.", "error", err)
			return nil
		}
		pageCount = n
	}

	if err := f.triggerWorkflow(ctx, logCtx, e, pageCount); err != nil {
		return err
	}
	logCtx.Info("Hand-off to workflow complete.", "pageCount", pageCount)
	return nil
}

// inspectPDF downloads the PDF, validates it and returns its page count.
func (f *UploadTriggerFunction) inspectPDF(ctx context.Context, logCtx *slog.Logger, e GCSEvent) (int, error) {
	tempDir, err := os.MkdirTemp("", "upload-trigger-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := f.streamGCSObject(ctx, e.Bucket, e.Name, sourcePdfPath); err != nil {
		return 0, err
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(sourcePdfPath, cfg); err != nil {
		return 0, fmt.Errorf("invalid PDF: %w: %w", models.ErrInvalidInput, err)
	}
	pageCount, err := api.PageCountFile(sourcePdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if f.config.MaxPages > 0 && pageCount > f.config.MaxPages {
		return 0, fmt.Errorf("%d pages exceeds limit of %d: %w", pageCount, f.config.MaxPages, models.ErrInvalidInput)
	}
	logCtx.Info("PDF validated.", "pageCount", pageCount)
	return pageCount, nil
}

func (f *UploadTriggerFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, e GCSEvent, pageCount int) error {
	payloadBytes, err := json.Marshal(models.WorkflowArgument{Bucket: e.Bucket, Object: e.Name, PageCount: pageCount})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := f.workflows.CreateExecution(ctx, req)
	if err != nil {
		logCtx.Error("Failed to trigger workflow execution", "error", err)
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	logCtx.Info("Workflow execution started.", "execution", exec.GetName())
	return nil
}

func (f *UploadTriggerFunction) streamGCSObject(ctx context.Context, bucket, object, destPath string) error {
	reader, err := f.open(ctx, bucket, object)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, reader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

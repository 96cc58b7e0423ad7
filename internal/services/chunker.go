package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lllllllleong/documentragflow/internal/gcp"
	"github.com/Lllllllleong/documentragflow/internal/models"
	"github.com/Lllllllleong/documentragflow/internal/ocr"
	"github.com/Lllllllleong/documentragflow/internal/store"
)

const tracerName = "github.com/Lllllllleong/documentragflow/internal/services"

// DocumentOCR runs batch OCR jobs.
type DocumentOCR interface {
	Submit(ctx context.Context, inputURI, mimeType, outputPrefix string) (string, error)
	Poll(ctx context.Context, operationName string) (*models.OCRDocument, bool, error)
	DisableProcessor(ctx context.Context) error
}

// SpanWriter persists the ingestion result.
type SpanWriter interface {
	PutSpans(ctx context.Context, key models.DocumentKey, spans []models.Span) error
	PutDocument(ctx context.Context, key models.DocumentKey, doc models.Document) error
}

// JobStore remembers the OCR job between the submit and completion phases.
type JobStore interface {
	RecordJob(ctx context.Context, key models.DocumentKey, job models.OCRJob) error
	GetJob(ctx context.Context, key models.DocumentKey) (models.OCRJob, error)
}

// ChunkerConfig holds configuration for the chunker service.
type ChunkerConfig struct {
	ProjectID       string
	SpanKind        models.SpanKind
	OCRTimeout      time.Duration
	OCRPollInterval time.Duration
	DisableAfterUse bool
}

// ChunkerFunction OCRs an uploaded document and writes its spans.
type ChunkerFunction struct {
	ocr    DocumentOCR
	spans  SpanWriter
	jobs   JobStore
	config ChunkerConfig
	tracer trace.Tracer
	now    func() time.Time
}

// NewChunker creates a new ChunkerFunction instance.
func NewChunker(ctx context.Context) (*ChunkerFunction, error) {
	projectID := gcp.GetEnv("GCP_PROJECT", "")
	if projectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT environment variable must be set")
	}
	outputBucket := gcp.GetEnv("OCR_OUTPUT_BUCKET", "")
	if outputBucket == "" {
		return nil, fmt.Errorf("OCR_OUTPUT_BUCKET environment variable must be set")
	}
	kind, err := models.ParseSpanKind(gcp.GetEnv("SPAN_KIND", ""))
	if err != nil {
		return nil, err
	}

	config := ChunkerConfig{
		ProjectID:       projectID,
		SpanKind:        kind,
		OCRTimeout:      gcp.GetEnvDuration("OCR_TIMEOUT", 7*time.Minute),
		OCRPollInterval: gcp.GetEnvDuration("OCR_POLL_INTERVAL", 10*time.Second),
		DisableAfterUse: gcp.GetEnvBool("OCR_DISABLE_AFTER_USE", false),
	}
	location := gcp.GetEnv("DOCAI_LOCATION", "us")

	docai, err := gcp.NewDocumentAIClient(ctx, location)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID, gcp.GetEnv("FIRESTORE_DATABASE", ""))
	if err != nil {
		return nil, err
	}

	ocrClient := ocr.New(docai, storageClient, ocr.Config{
		ProjectID:            projectID,
		Location:             location,
		ProcessorDisplayName: gcp.GetEnv("DOCAI_PROCESSOR_NAME", "ocr-processor"),
		ProcessorType:        gcp.GetEnv("DOCAI_PROCESSOR_TYPE", "OCR_PROCESSOR"),
		OutputBucket:         outputBucket,
		ShardConcurrency:     gcp.GetEnvInt("OCR_SHARD_CONCURRENCY", 4),
	})
	fs := store.NewFirestoreStore(firestoreClient, kind, gcp.GetEnv("OCR_JOBS_COLLECTION", "ocr-jobs"))

	return NewChunkerWith(ocrClient, fs, fs, config), nil
}

// NewChunkerWith wires a ChunkerFunction from its collaborators.
func NewChunkerWith(o DocumentOCR, spans SpanWriter, jobs JobStore, config ChunkerConfig) *ChunkerFunction {
	if config.OCRPollInterval <= 0 {
		config.OCRPollInterval = 10 * time.Second
	}
	if config.SpanKind == "" {
		config.SpanKind = models.SpanKindParagraphs
	}
	return &ChunkerFunction{
		ocr:    o,
		spans:  spans,
		jobs:   jobs,
		config: config,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// Process runs the OCR ingestion stage for one uploaded object.
func (f *ChunkerFunction) Process(ctx context.Context, req *models.ChunkerRequest) (*models.ChunkerResponse, error) {
	if req.Bucket == "" || req.Object == "" {
		return nil, fmt.Errorf("bucket and object are required: %w", models.ErrInvalidInput)
	}
	key, err := models.ParseObjectPath(req.Object)
	if err != nil {
		return nil, err
	}
	logCtx := slog.With("collection", key.Collection, "document", key.Filename)

	// --- Two-phase completion: poll a previously submitted job once ---
	if req.Poll {
		job, err := f.jobs.GetJob(ctx, key)
		if err != nil {
			return nil, err
		}
		doc, done, err := f.ocr.Poll(ctx, job.OperationName)
		if err != nil {
			logCtx.Error("OCR job failed", "operation", job.OperationName, "error", err)
			return nil, err
		}
		if !done {
			logCtx.Info("OCR job still running.", "operation", job.OperationName)
			return &models.ChunkerResponse{Status: models.ChunkerStatusPending, OperationName: job.OperationName}, nil
		}
		return f.complete(ctx, logCtx, key, doc)
	}

	// --- 1. Submit the OCR job and record its handle ---
	opName, err := f.submit(ctx, key, gcp.GCSURI(req.Bucket, req.Object), ocr.MIMETypeFor(req.Object))
	if err != nil {
		logCtx.Error("Failed to submit OCR job", "error", err)
		return nil, err
	}
	if req.Async {
		return &models.ChunkerResponse{Status: models.ChunkerStatusSubmitted, OperationName: opName}, nil
	}

	// --- 2. Wait for the job within the configured bound ---
	doc, err := f.wait(ctx, opName)
	if err != nil {
		logCtx.Error("OCR job did not complete", "operation", opName, "error", err)
		return nil, err
	}
	return f.complete(ctx, logCtx, key, doc)
}

func (f *ChunkerFunction) submit(ctx context.Context, key models.DocumentKey, inputURI, mimeType string) (string, error) {
	ctx, span := f.tracer.Start(ctx, "ocr.submit", trace.WithAttributes(attribute.String("document", key.String())))
	defer span.End()

	opName, err := f.ocr.Submit(ctx, inputURI, mimeType, key.String())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	job := models.OCRJob{OperationName: opName, InputURI: inputURI, SubmittedAt: f.now()}
	if err := f.jobs.RecordJob(ctx, key, job); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return opName, nil
}

// wait polls until the job finishes or OCRTimeout elapses.
func (f *ChunkerFunction) wait(ctx context.Context, opName string) (*models.OCRDocument, error) {
	ctx, span := f.tracer.Start(ctx, "ocr.wait", trace.WithAttributes(attribute.String("operation", opName)))
	defer span.End()

	waitCtx := ctx
	if f.config.OCRTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, f.config.OCRTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(f.config.OCRPollInterval)
	defer ticker.Stop()
	for {
		doc, done, err := f.ocr.Poll(waitCtx, opName)
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			span.SetStatus(codes.Error, "timeout")
			return nil, fmt.Errorf("operation %s after %s: %w", opName, f.config.OCRTimeout, models.ErrOCRTimeout)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if done {
			return doc, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			span.SetStatus(codes.Error, "timeout")
			return nil, fmt.Errorf("operation %s after %s: %w", opName, f.config.OCRTimeout, models.ErrOCRTimeout)
		case <-ticker.C:
		}
	}
}

// complete writes spans first and the Document last, so a Document in
// Processing... always has its spans in place.
func (f *ChunkerFunction) complete(ctx context.Context, logCtx *slog.Logger, key models.DocumentKey, doc *models.OCRDocument) (*models.ChunkerResponse, error) {
	ctx, span := f.tracer.Start(ctx, "spans.write", trace.WithAttributes(attribute.String("document", key.String())))
	defer span.End()

	spans := BuildSpans(doc, f.config.SpanKind)
	languages := AggregateLanguages(doc.Pages)
	logCtx.Info("Extracted spans from OCR output.", "pages", len(doc.Pages), "spans", len(spans), "kind", f.config.SpanKind, "languages", languages)

	if err := f.spans.PutSpans(ctx, key, spans); err != nil {
		span.SetStatus(codes.Error, err.Error())
		logCtx.Error("Failed to write spans", "error", err)
		return nil, err
	}
	if err := f.spans.PutDocument(ctx, key, models.Document{
		Text:      doc.Text,
		Status:    models.StatusProcessing,
		Languages: languages,
	}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		logCtx.Error("Failed to write document", "error", err)
		return nil, err
	}

	if f.config.DisableAfterUse {
		if err := f.ocr.DisableProcessor(ctx); err != nil {
			logCtx.Warn("Could not disable OCR processor", "error", err)
		}
	}

	logCtx.Info("Document ingested.", "status", models.StatusProcessing)
	return &models.ChunkerResponse{
		Status:    models.ChunkerStatusSuccess,
		PageCount: len(doc.Pages),
		SpanCount: len(spans),
		Languages: languages,
	}, nil
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Lllllllleong/documentragflow/internal/gcp"
	"github.com/Lllllllleong/documentragflow/internal/models"
	"github.com/Lllllllleong/documentragflow/internal/store"
	"github.com/Lllllllleong/documentragflow/internal/vectorstore"
)

// IndexStore is everything the indexer needs from the span store.
type IndexStore interface {
	SpanIndex
	StatusStore
	ListUnindexed(ctx context.Context, key models.DocumentKey) ([]models.Span, error)
	AcquireLease(ctx context.Context, key models.DocumentKey, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, key models.DocumentKey, owner string) error
}

// TextIndexer embeds a batch and writes the vectors.
type TextIndexer interface {
	AddTexts(ctx context.Context, items []models.BatchItem) error
}

// IndexerConfig holds configuration for the indexer service.
type IndexerConfig struct {
	ProjectID string
	LeaseTTL  time.Duration
	// EmbedRPS bounds provider calls per second; zero disables the limiter.
	EmbedRPS float64
}

// IndexerFunction embeds the unindexed spans of one document.
type IndexerFunction struct {
	store   IndexStore
	writer  TextIndexer
	tracker *Tracker
	limiter *rate.Limiter
	config  IndexerConfig

	tracer        trace.Tracer
	indexedSpans  metric.Int64Counter
	failedBatches metric.Int64Counter
	newLeaseOwner func() string
}

// NewIndexer creates a new IndexerFunction instance.
func NewIndexer(ctx context.Context) (*IndexerFunction, error) {
	projectID := gcp.GetEnv("GCP_PROJECT", "")
	if projectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT environment variable must be set")
	}
	kind, err := models.ParseSpanKind(gcp.GetEnv("SPAN_KIND", ""))
	if err != nil {
		return nil, err
	}
	config := IndexerConfig{
		ProjectID: projectID,
		LeaseTTL:  gcp.GetEnvDuration("INDEX_LEASE_TTL", 9*time.Minute),
		EmbedRPS:  gcp.GetEnvFloat("EMBED_RPS", 5),
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID, gcp.GetEnv("FIRESTORE_DATABASE", ""))
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(ctx, projectID, gcp.GetEnv("VERTEX_AI_REGION", "us-central1"))
	if err != nil {
		return nil, err
	}
	vectors, err := vectorstore.Open(ctx, vectorstore.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	fs := store.NewFirestoreStore(firestoreClient, kind, gcp.GetEnv("OCR_JOBS_COLLECTION", "ocr-jobs"))
	return NewIndexerWith(fs, vectorstore.NewEmbeddingWriter(embedder, vectors), config)
}

// NewIndexerWith wires an IndexerFunction from its collaborators.
func NewIndexerWith(s IndexStore, writer TextIndexer, config IndexerConfig) (*IndexerFunction, error) {
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = 9 * time.Minute
	}
	limit := rate.Inf
	if config.EmbedRPS > 0 {
		limit = rate.Limit(config.EmbedRPS)
	}

	meter := otel.Meter(tracerName)
	indexedSpans, err := meter.Int64Counter("documentragflow.spans.indexed",
		metric.WithDescription("Spans embedded and marked indexed"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	failedBatches, err := meter.Int64Counter("documentragflow.batches.failed",
		metric.WithDescription("Embedding batches that aborted an indexing pass"))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	return &IndexerFunction{
		store:         s,
		writer:        writer,
		tracker:       NewTracker(s, s),
		limiter:       rate.NewLimiter(limit, 1),
		config:        config,
		tracer:        otel.Tracer(tracerName),
		indexedSpans:  indexedSpans,
		failedBatches: failedBatches,
		newLeaseOwner: uuid.NewString,
	}, nil
}

// Process embeds every unindexed span of the document in batches and marks
// each batch indexed before the next one starts.
func (f *IndexerFunction) Process(ctx context.Context, req *models.IndexerRequest) (*models.IndexerResponse, error) {
	key, err := models.ParseObjectPath(req.Object)
	if err != nil {
		return nil, err
	}
	logCtx := slog.With("collection", key.Collection, "document", key.Filename)

	// --- 1. Exclude concurrent passes over the same document ---
	owner := f.newLeaseOwner()
	if err := f.store.AcquireLease(ctx, key, owner, f.config.LeaseTTL); err != nil {
		logCtx.Warn("Could not acquire indexing lease", "error", err)
		return nil, err
	}
	defer func() {
		if relErr := f.store.ReleaseLease(context.WithoutCancel(ctx), key, owner); relErr != nil {
			logCtx.Error("Failed to release indexing lease", "error", relErr)
		}
	}()

	// --- 2. Collect unindexed spans in reading order ---
	spans, err := f.store.ListUnindexed(ctx, key)
	if err != nil {
		return nil, err
	}
	models.SortSpans(spans)

	if len(spans) == 0 {
		return f.nothingToIndex(ctx, logCtx, key)
	}

	if _, err := f.store.Transition(ctx, key, models.StatusIndexing); err != nil {
		return nil, err
	}

	// --- 3. Embed, store and mark one batch at a time ---
	batches := Partition(spans, models.BatchSize)
	logCtx.Info("Indexing document.", "spans", len(spans), "batches", len(batches))

	indexed := 0
	for i, batch := range batches {
		if err := f.indexBatch(ctx, key, i, batch); err != nil {
			f.failedBatches.Add(ctx, 1)
			logCtx.Error("Batch failed, aborting pass", "batch", i+1, "of", len(batches), "indexedSoFar", indexed, "error", err)
			return nil, fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
		}
		indexed += len(batch)
	}

	// --- 4. Move to Indexed once nothing is left ---
	remaining, status, err := f.tracker.Finalize(ctx, key)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		logCtx.Warn("Unindexed spans remain after indexing pass", "remaining", remaining)
	}
	logCtx.Info("Indexing pass complete.", "indexed", indexed, "remaining", remaining, "status", status)
	return &models.IndexerResponse{
		Status:       status,
		IndexedCount: indexed,
		BatchCount:   len(batches),
		Remaining:    remaining,
	}, nil
}

func (f *IndexerFunction) indexBatch(ctx context.Context, key models.DocumentKey, i int, batch []models.Span) error {
	ctx, span := f.tracer.Start(ctx, "index.batch", trace.WithAttributes(
		attribute.String("document", key.String()),
		attribute.Int("batch", i),
		attribute.Int("size", len(batch)),
	))
	defer span.End()

	if err := f.limiter.Wait(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("rate limiter: %w", err)
	}
	if err := f.writer.AddTexts(ctx, batchItems(key, batch)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := f.tracker.MarkBatch(ctx, key, batch); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	f.indexedSpans.Add(ctx, int64(len(batch)), metric.WithAttributes(attribute.String("collection", key.Collection)))
	return nil
}

// nothingToIndex makes no provider calls. A document already Indexed is left untouched.
func (f *IndexerFunction) nothingToIndex(ctx context.Context, logCtx *slog.Logger, key models.DocumentKey) (*models.IndexerResponse, error) {
	status, err := f.store.GetStatus(ctx, key)
	if err != nil {
		return nil, err
	}
	if status != models.StatusIndexed {
		if _, err := f.store.Transition(ctx, key, models.StatusIndexed); err != nil {
			return nil, err
		}
		status = models.StatusIndexed
	}
	logCtx.Info("No unindexed spans.", "status", status)
	return &models.IndexerResponse{Status: status}, nil
}

// Package vectorstore persists span embeddings and answers similarity queries.
// One backend is active per deployment: BigQuery (default), Qdrant or pgvector.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Lllllllleong/documentragflow/internal/embedding"
	"github.com/Lllllllleong/documentragflow/internal/models"
)

// Record is one embedded span.
type Record struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata models.SpanMetadata
}

// Match is a search hit. Distance is Euclidean; smaller is closer.
type Match struct {
	Content  string
	Metadata models.SpanMetadata
	Distance float32
}

// Store is implemented by every vector backend.
type Store interface {
	Add(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
	Close() error
}

// RecordID derives a stable vector id from the span's location, so writing
// the same span twice replaces the earlier vector.
func RecordID(key models.DocumentKey, spanID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("span:"+key.String()+"#"+spanID)).String()
}

// EmbeddingWriter embeds texts and writes them to a Store in one step.
type EmbeddingWriter struct {
	embedder embedding.Embedder
	store    Store
}

func NewEmbeddingWriter(embedder embedding.Embedder, store Store) *EmbeddingWriter {
	return &EmbeddingWriter{embedder: embedder, store: store}
}

// AddTexts embeds a batch of at most models.BatchSize items and stores the vectors.
func (w *EmbeddingWriter) AddTexts(ctx context.Context, items []models.BatchItem) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > models.BatchSize {
		return fmt.Errorf("%d items, limit %d: %w", len(items), models.BatchSize, models.ErrBatchTooLarge)
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	vectors, err := w.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(items) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(items))
	}

	records := make([]Record, len(items))
	for i, it := range items {
		records[i] = Record{
			ID:       RecordID(it.Key, it.SpanID),
			Content:  it.Text,
			Vector:   vectors[i],
			Metadata: it.Metadata,
		}
	}
	if err := w.store.Add(ctx, records); err != nil {
		return fmt.Errorf("store batch: %w", err)
	}
	return nil
}

// SimilaritySearch embeds the query and returns the k closest spans.
func (w *EmbeddingWriter) SimilaritySearch(ctx context.Context, query string, k int) ([]Match, error) {
	vector, err := w.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return w.store.Search(ctx, vector, k)
}

// Package embedding turns span and query text into vectors.
package embedding

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/documentragflow/internal/models"
)

// Embedder is implemented by every embedding provider.
type Embedder interface {
	// EmbedDocuments returns one vector per text, in order. At most
	// models.BatchSize texts are accepted per call.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

func checkBatch(texts []string) error {
	if len(texts) > models.BatchSize {
		return fmt.Errorf("%d texts, limit %d: %w", len(texts), models.BatchSize, models.ErrBatchTooLarge)
	}
	return nil
}

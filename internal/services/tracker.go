package services

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/documentragflow/internal/models"
)

// SpanIndex flips and counts span index flags.
type SpanIndex interface {
	MarkIndexed(ctx context.Context, key models.DocumentKey, ids []string) error
	CountUnindexed(ctx context.Context, key models.DocumentKey) (int, error)
}

// StatusStore reads and moves the Document status.
type StatusStore interface {
	GetStatus(ctx context.Context, key models.DocumentKey) (models.Status, error)
	Transition(ctx context.Context, key models.DocumentKey, to models.Status) (models.Status, error)
}

// Tracker records indexing progress. Spans that were indexed are never rolled back.
type Tracker struct {
	spans  SpanIndex
	status StatusStore
}

// NewTracker builds a Tracker over the span flags and the Document status.
func NewTracker(spans SpanIndex, status StatusStore) *Tracker {
	return &Tracker{spans: spans, status: status}
}

// MarkBatch flips exactly the batch's span ids, never matching on text.
func (t *Tracker) MarkBatch(ctx context.Context, key models.DocumentKey, batch []models.Span) error {
	ids := make([]string, len(batch))
	for i, span := range batch {
		ids[i] = span.ID
	}
	return t.spans.MarkIndexed(ctx, key, ids)
}

// Finalize moves the document to Indexed once no unindexed span remains.
// Otherwise the status stays Indexing... and the remaining count is returned.
func (t *Tracker) Finalize(ctx context.Context, key models.DocumentKey) (int, models.Status, error) {
	remaining, err := t.spans.CountUnindexed(ctx, key)
	if err != nil {
		return 0, models.StatusNone, err
	}
	if remaining > 0 {
		return remaining, models.StatusIndexing, nil
	}
	if _, err := t.status.Transition(ctx, key, models.StatusIndexed); err != nil {
		return 0, models.StatusNone, fmt.Errorf("finalize: %w", err)
	}
	return 0, models.StatusIndexed, nil
}

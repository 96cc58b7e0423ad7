package services

import (
	"github.com/Lllllllleong/documentragflow/internal/models"
)

// Partition splits spans into consecutive groups of at most size.
func Partition(spans []models.Span, size int) [][]models.Span {
	if size <= 0 || size > models.BatchSize {
		size = models.BatchSize
	}
	var batches [][]models.Span
	for start := 0; start < len(spans); start += size {
		end := min(start+size, len(spans))
		batches = append(batches, spans[start:end])
	}
	return batches
}

// batchItems attaches the {source, page} metadata stored next to each vector.
func batchItems(key models.DocumentKey, batch []models.Span) []models.BatchItem {
	items := make([]models.BatchItem, len(batch))
	for i, span := range batch {
		items[i] = models.BatchItem{
			Key:      key,
			SpanID:   span.ID,
			Text:     span.Text,
			Metadata: models.SpanMetadata{Source: key.Filename, Page: span.Page},
		}
	}
	return items
}

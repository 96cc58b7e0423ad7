package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/documentragflow/internal/models"
)

var testKey = models.DocumentKey{Collection: "manuals", Filename: "pump.pdf"}

func newTestIndexer(t *testing.T, s IndexStore, w TextIndexer) *IndexerFunction {
	t.Helper()
	f, err := NewIndexerWith(s, w, IndexerConfig{LeaseTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewIndexerWith: %v", err)
	}
	return f
}

func TestIndexerIndexesAllSpans(t *testing.T) {
	s := newMemStore()
	s.seed(testKey, 12)
	w := &recordingWriter{}
	f := newTestIndexer(t, s, w)

	resp, err := f.Process(context.Background(), &models.IndexerRequest{Object: "manuals/pump.pdf"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(w.calls) != 3 {
		t.Fatalf("expected 3 provider calls, got %d", len(w.calls))
	}
	if len(w.calls[2]) != 2 {
		t.Fatalf("last batch size = %d, want 2", len(w.calls[2]))
	}
	if resp.Status != models.StatusIndexed || resp.IndexedCount != 12 || resp.BatchCount != 3 || resp.Remaining != 0 {
		t.Fatalf("response = %+v", resp)
	}
	if s.status(testKey) != models.StatusIndexed {
		t.Fatalf("status = %q", s.status(testKey))
	}
	if n, _ := s.CountUnindexed(context.Background(), testKey); n != 0 {
		t.Fatalf("%d spans left unindexed", n)
	}
}

func TestIndexerBatchesFollowReadingOrderWithMetadata(t *testing.T) {
	s := newMemStore()
	_ = s.PutSpans(context.Background(), testKey, []models.Span{
		{ID: "2.0", Text: "c", Page: 2},
		{ID: "1.10", Text: "b", Page: 1},
		{ID: "1.2", Text: "a", Page: 1},
	})
	_ = s.PutDocument(context.Background(), testKey, models.Document{Status: models.StatusProcessing})
	w := &recordingWriter{}

	if _, err := newTestIndexer(t, s, w).Process(context.Background(), &models.IndexerRequest{Object: "manuals/pump.pdf"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := w.calls[0]
	for i, want := range []string{"1.2", "1.10", "2.0"} {
		if got[i].SpanID != want {
			t.Fatalf("item %d = %s, want %s", i, got[i].SpanID, want)
		}
	}
	if got[2].Metadata != (models.SpanMetadata{Source: "pump.pdf", Page: 2}) {
		t.Fatalf("metadata = %+v", got[2].Metadata)
	}
}

func TestIndexerIsIdempotent(t *testing.T) {
	s := newMemStore()
	s.seed(testKey, 3)
	w := &recordingWriter{}
	f := newTestIndexer(t, s, w)
	ctx := context.Background()

	if _, err := f.Process(ctx, &models.IndexerRequest{Object: "manuals/pump.pdf"}); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	callsBefore, transitionsBefore := len(w.calls), s.transitions

	resp, err := f.Process(ctx, &models.IndexerRequest{Object: "manuals/pump.pdf"})
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if len(w.calls) != callsBefore {
		t.Fatalf("second pass made %d provider calls", len(w.calls)-callsBefore)
	}
	if s.transitions != transitionsBefore {
		t.Fatal("second pass changed the document status")
	}
	if resp.Status != models.StatusIndexed || resp.IndexedCount != 0 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestIndexerNoSpansMovesProcessingToIndexed(t *testing.T) {
	s := newMemStore()
	s.seed(testKey, 0)
	w := &recordingWriter{}

	resp, err := newTestIndexer(t, s, w).Process(context.Background(), &models.IndexerRequest{Object: "manuals/pump.pdf"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(w.calls) != 0 {
		t.Fatalf("expected no provider calls, got %d", len(w.calls))
	}
	if resp.Status != models.StatusIndexed || s.status(testKey) != models.StatusIndexed {
		t.Fatalf("status = %q / %q", resp.Status, s.status(testKey))
	}
}

func TestIndexerResumesAfterBatchFailure(t *testing.T) {
	s := newMemStore()
	s.seed(testKey, 12)
	ctx := context.Background()

	w := &recordingWriter{failOn: 2}
	_, err := newTestIndexer(t, s, w).Process(ctx, &models.IndexerRequest{Object: "manuals/pump.pdf"})
	if err == nil {
		t.Fatal("expected failure on second batch")
	}
	if len(w.calls) != 2 {
		t.Fatalf("pass must stop at the failing batch, got %d calls", len(w.calls))
	}
	for i := 0; i < 12; i++ {
		want := i < 5
		if got := s.indexed(testKey, models.SpanID(1, i)); got != want {
			t.Fatalf("span 1.%d indexed = %v, want %v", i, got, want)
		}
	}
	if s.status(testKey) != models.StatusIndexing {
		t.Fatalf("status after failure = %q", s.status(testKey))
	}

	retry := &recordingWriter{}
	resp, err := newTestIndexer(t, s, retry).Process(ctx, &models.IndexerRequest{Object: "manuals/pump.pdf"})
	if err != nil {
		t.Fatalf("retry Process: %v", err)
	}
	if len(retry.calls) != 2 || resp.IndexedCount != 7 {
		t.Fatalf("retry made %d calls for %d spans", len(retry.calls), resp.IndexedCount)
	}
	if s.status(testKey) != models.StatusIndexed {
		t.Fatalf("status after retry = %q", s.status(testKey))
	}
}

func TestIndexerFlipsDuplicateTextsByID(t *testing.T) {
	s := newMemStore()
	spans := make([]models.Span, 7)
	for i := range spans {
		spans[i] = models.Span{ID: models.SpanID(1, i), Text: "Page intentionally left blank", Page: 1}
	}
	_ = s.PutSpans(context.Background(), testKey, spans)
	_ = s.PutDocument(context.Background(), testKey, models.Document{Status: models.StatusProcessing})

	w := &recordingWriter{failOn: 2}
	_, _ = newTestIndexer(t, s, w).Process(context.Background(), &models.IndexerRequest{Object: "manuals/pump.pdf"})

	// Only the first batch succeeded; spans 5 and 6 share its text but stay unindexed.
	if s.indexed(testKey, "1.5") || s.indexed(testKey, "1.6") {
		t.Fatal("spans with identical text outside the batch must not be flipped")
	}
	if !s.indexed(testKey, "1.4") {
		t.Fatal("span 1.4 should be indexed")
	}
}

func TestIndexerRejectsHeldLease(t *testing.T) {
	s := newMemStore()
	s.seed(testKey, 3)
	if err := s.AcquireLease(context.Background(), testKey, "other-invocation", time.Minute); err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	w := &recordingWriter{}

	_, err := newTestIndexer(t, s, w).Process(context.Background(), &models.IndexerRequest{Object: "manuals/pump.pdf"})
	if !errors.Is(err, models.ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	if len(w.calls) != 0 {
		t.Fatalf("expected no provider calls, got %d", len(w.calls))
	}
}

func TestIndexerReleasesLease(t *testing.T) {
	s := newMemStore()
	s.seed(testKey, 2)
	f := newTestIndexer(t, s, &recordingWriter{})
	if _, err := f.Process(context.Background(), &models.IndexerRequest{Object: "manuals/pump.pdf"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := s.AcquireLease(context.Background(), testKey, "next", time.Minute); err != nil {
		t.Fatalf("lease not released: %v", err)
	}
}

func TestIndexerUnknownDocument(t *testing.T) {
	f := newTestIndexer(t, newMemStore(), &recordingWriter{})
	_, err := f.Process(context.Background(), &models.IndexerRequest{Object: "manuals/missing.pdf"})
	if !errors.Is(err, models.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestIndexerInvalidObject(t *testing.T) {
	f := newTestIndexer(t, newMemStore(), &recordingWriter{})
	_, err := f.Process(context.Background(), &models.IndexerRequest{Object: "pump.pdf"})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

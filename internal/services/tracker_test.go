package services

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/Lllllllleong/documentragflow/internal/models"
)

// lateSpanStore reports spans that appeared after the pass listed its work.
type lateSpanStore struct {
	*memStore
	late int
}

func (l *lateSpanStore) CountUnindexed(ctx context.Context, key models.DocumentKey) (int, error) {
	n, err := l.memStore.CountUnindexed(ctx, key)
	return n + l.late, err
}

func TestFinalizeKeepsIndexingWhileSpansRemain(t *testing.T) {
	s := newMemStore()
	s.seed(testKey, 2)
	if _, err := s.Transition(context.Background(), testKey, models.StatusIndexing); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	remaining, status, err := NewTracker(s, s).Finalize(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if remaining != 2 || status != models.StatusIndexing {
		t.Fatalf("Finalize = %d, %q", remaining, status)
	}
	if got := s.status(testKey); got != models.StatusIndexing {
		t.Fatalf("stored status = %q, want %q", got, models.StatusIndexing)
	}
}

func TestIndexerLogsRemainingWithDocumentContext(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	s := &lateSpanStore{memStore: newMemStore(), late: 3}
	s.seed(testKey, 4)
	f := newTestIndexer(t, s, &recordingWriter{})

	resp, err := f.Process(context.Background(), &models.IndexerRequest{Object: "manuals/pump.pdf"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Remaining != 3 || resp.Status != models.StatusIndexing {
		t.Fatalf("response = %+v", resp)
	}

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec["level"] != "WARN" || !strings.Contains(rec["msg"].(string), "remain") {
			continue
		}
		found = true
		if rec["collection"] != "manuals" || rec["document"] != "pump.pdf" {
			t.Fatalf("warning lacks document context: %v", rec)
		}
	}
	if !found {
		t.Fatal("expected a warning about remaining spans")
	}
}

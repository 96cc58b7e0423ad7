package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Lllllllleong/documentragflow/internal/models"
	"github.com/Lllllllleong/documentragflow/internal/vectorstore"
)

type stubRetriever struct {
	matches []vectorstore.Match
	err     error
	k       int
}

func (r *stubRetriever) SimilaritySearch(_ context.Context, _ string, k int) ([]vectorstore.Match, error) {
	r.k = k
	return r.matches, r.err
}

type stubGenerator struct {
	prompt string
	answer string
	err    error
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.answer, g.err
}

func TestQueryAnswersWithSources(t *testing.T) {
	r := &stubRetriever{matches: []vectorstore.Match{{
		Content:  "Tighten the flange bolts to 45 Nm.",
		Metadata: models.SpanMetadata{Source: "pump.pdf", Page: 4},
		Distance: 0.31,
	}}}
	g := &stubGenerator{answer: "45 Nm."}
	f := NewQueryWith(r, g, QueryConfig{})

	resp, err := f.Process(context.Background(), &models.QueryRequest{Query: "What torque for the flange bolts?"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.k != 1 {
		t.Fatalf("default k = %d, want 1", r.k)
	}
	if resp.Answer != "45 Nm." || len(resp.Sources) != 1 || resp.Sources[0].Page != 4 {
		t.Fatalf("response = %+v", resp)
	}
	if !strings.Contains(g.prompt, "Tighten the flange bolts") || !strings.Contains(g.prompt, "Question: What torque for the flange bolts?") {
		t.Fatalf("prompt missing context or question:\n%s", g.prompt)
	}
}

func TestQueryRejectsEmptyQuestion(t *testing.T) {
	f := NewQueryWith(&stubRetriever{}, &stubGenerator{}, QueryConfig{})
	if _, err := f.Process(context.Background(), &models.QueryRequest{Query: "  "}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestQueryPropagatesRetrievalError(t *testing.T) {
	g := &stubGenerator{}
	f := NewQueryWith(&stubRetriever{err: errors.New("bigquery down")}, g, QueryConfig{TopK: 3})
	if _, err := f.Process(context.Background(), &models.QueryRequest{Query: "q"}); err == nil {
		t.Fatal("expected error")
	}
	if g.prompt != "" {
		t.Fatal("generator must not be called when retrieval fails")
	}
}

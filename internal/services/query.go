package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/documentragflow/internal/gcp"
	"github.com/Lllllllleong/documentragflow/internal/models"
	"github.com/Lllllllleong/documentragflow/internal/vectorstore"
)

// Retriever finds the spans closest to a question.
type Retriever interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]vectorstore.Match, error)
}

// Generator answers a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// QueryConfig holds configuration for the query service.
type QueryConfig struct {
	ProjectID string
	TopK      int
}

// QueryFunction answers questions from the indexed spans.
type QueryFunction struct {
	retriever Retriever
	generator Generator
	config    QueryConfig
}

// NewQuery creates a new QueryFunction instance.
func NewQuery(ctx context.Context) (*QueryFunction, error) {
	projectID := gcp.GetEnv("GCP_PROJECT", "")
	if projectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT environment variable must be set")
	}
	region := gcp.GetEnv("VERTEX_AI_REGION", "us-central1")
	config := QueryConfig{
		ProjectID: projectID,
		TopK:      gcp.GetEnvInt("QUERY_TOP_K", 1),
	}

	embedder, err := newEmbedder(ctx, projectID, region)
	if err != nil {
		return nil, err
	}
	vectors, err := vectorstore.Open(ctx, vectorstore.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, projectID, region, gcp.GetEnv("CHAT_MODEL", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	return NewQueryWith(vectorstore.NewEmbeddingWriter(embedder, vectors), vertexClient, config), nil
}

// NewQueryWith wires a QueryFunction from its collaborators.
func NewQueryWith(r Retriever, g Generator, config QueryConfig) *QueryFunction {
	if config.TopK <= 0 {
		config.TopK = 1
	}
	return &QueryFunction{retriever: r, generator: g, config: config}
}

// Process retrieves context for the question and asks the chat model.
func (f *QueryFunction) Process(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	question := strings.TrimSpace(req.Query)
	if question == "" {
		return nil, fmt.Errorf("query is required: %w", models.ErrInvalidInput)
	}

	matches, err := f.retriever.SimilaritySearch(ctx, question, f.config.TopK)
	if err != nil {
		slog.Error("Retrieval failed", "error", err)
		return nil, err
	}

	answer, err := f.generator.Generate(ctx, BuildQueryPrompt(question, matches))
	if err != nil {
		slog.Error("Answer generation failed", "error", err)
		return nil, err
	}

	sources := make([]models.QuerySource, len(matches))
	for i, m := range matches {
		sources[i] = models.QuerySource{
			Source:  m.Metadata.Source,
			Page:    m.Metadata.Page,
			Content: m.Content,
			Score:   m.Distance,
		}
	}
	slog.Info("Query answered.", "sources", len(sources))
	return &models.QueryResponse{Answer: answer, Sources: sources}, nil
}

// BuildQueryPrompt fills the retrieved spans and the question into the prompt template.
func BuildQueryPrompt(question string, matches []vectorstore.Match) string {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, fmt.Sprintf("Content: %s\nSource: %s, page %d", m.Content, m.Metadata.Source, m.Metadata.Page))
	}
	return fmt.Sprintf(gcp.QueryUserPromptTemplate, strings.Join(parts, "\n\n"), question)
}

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/documentragflow/internal/embedding"
	"github.com/Lllllllleong/documentragflow/internal/gcp"
)

// newEmbedder builds the provider named by EMBEDDING_PROVIDER behind a circuit breaker.
func newEmbedder(ctx context.Context, projectID, region string) (embedding.Embedder, error) {
	provider := strings.ToLower(gcp.GetEnv("EMBEDDING_PROVIDER", "vertex"))
	model := gcp.GetEnv("EMBEDDING_MODEL", "")

	var base embedding.Embedder
	switch provider {
	case "vertex":
		if model == "" {
			model = "textembedding-gecko@003"
		}
		client, err := gcp.NewPredictionClient(ctx, region)
		if err != nil {
			return nil, err
		}
		base = embedding.NewVertexEmbedder(client, gcp.PublisherModel(projectID, region, model))
	case "gemini":
		e, err := embedding.NewGeminiEmbedder(ctx, gcp.GetEnv("GEMINI_API_KEY", ""), model)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini embedder: %w", err)
		}
		base = e
	default:
		return nil, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", provider)
	}

	return embedding.NewBreaker(base, embedding.BreakerConfig{
		MinRequests:  uint32(gcp.GetEnvInt("EMBED_BREAKER_MIN_REQUESTS", 3)),
		FailureRatio: gcp.GetEnvFloat("EMBED_BREAKER_FAILURE_RATIO", 0.6),
		OpenTimeout:  gcp.GetEnvDuration("EMBED_BREAKER_OPEN_TIMEOUT", 30*time.Second),
	}), nil
}

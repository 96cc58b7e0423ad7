package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"

	"github.com/Lllllllleong/documentragflow/internal/gcp"
)

const (
	BackendBigQuery = "bigquery"
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
)

// Config selects and configures the single active backend.
type Config struct {
	Backend    string
	ProjectID  string
	Location   string
	Dataset    string
	Table      string
	QdrantAddr string
	PGURL      string
	Dimensions int
	// Bootstrap creates the dataset/table/collection when missing.
	Bootstrap bool
}

// ConfigFromEnv reads VECTOR_BACKEND and the backend's settings.
func ConfigFromEnv() Config {
	return Config{
		Backend:    strings.ToLower(gcp.GetEnv("VECTOR_BACKEND", BackendBigQuery)),
		ProjectID:  gcp.GetEnv("GCP_PROJECT", ""),
		Location:   gcp.GetEnv("BIGQUERY_LOCATION", "US"),
		Dataset:    gcp.GetEnv("BIGQUERY_DATASET", "gemini_di"),
		Table:      gcp.GetEnv("VECTOR_TABLE", "doc_and_vectors"),
		QdrantAddr: gcp.GetEnv("QDRANT_ADDR", "localhost:6334"),
		PGURL:      gcp.GetEnv("DATABASE_URL", ""),
		Dimensions: gcp.GetEnvInt("EMBEDDING_DIMENSIONS", 768),
		Bootstrap:  gcp.GetEnvBool("VECTOR_BOOTSTRAP", true),
	}
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendBigQuery:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("GCP_PROJECT must be set for the bigquery backend")
		}
		client, err := bigquery.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create bigquery client: %w", err)
		}
		s := NewBigQueryStore(client, cfg.Dataset, cfg.Table, cfg.Location)
		if cfg.Bootstrap {
			if err := s.EnsureTable(ctx); err != nil {
				client.Close()
				return nil, err
			}
		}
		return s, nil

	case BackendQdrant:
		s, err := NewQdrantStore(cfg.QdrantAddr, cfg.Table)
		if err != nil {
			return nil, err
		}
		if cfg.Bootstrap {
			if err := s.EnsureCollection(ctx, cfg.Dimensions); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil

	case BackendPGVector:
		s, err := OpenPGVector(ctx, cfg.PGURL, cfg.Table)
		if err != nil {
			return nil, err
		}
		if cfg.Bootstrap {
			if err := s.EnsureTable(ctx, cfg.Dimensions); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.Backend)
	}
}

package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
)

// PGVectorStore keeps vectors in a Postgres table with the pgvector extension.
type PGVectorStore struct {
	db    *sql.DB
	table string
}

// OpenPGVector connects with the pgx stdlib driver.
func OpenPGVector(ctx context.Context, databaseURL, table string) (*PGVectorStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return NewPGVectorStore(db, table), nil
}

func NewPGVectorStore(db *sql.DB, table string) *PGVectorStore {
	return &PGVectorStore{db: db, table: pgx.Identifier{table}.Sanitize()}
}

// EnsureTable installs the extension and creates the table when missing.
func (s *PGVectorStore) EnsureTable(ctx context.Context, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			page INTEGER NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.table, dims),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("bootstrap %s: %w", s.table, err)
		}
	}
	return nil
}

// Add upserts records in a single transaction.
func (s *PGVectorStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, content, source, page, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content, source = EXCLUDED.source, page = EXCLUDED.page, embedding = EXCLUDED.embedding
	`, s.table)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Content, r.Metadata.Source, r.Metadata.Page, pgvector.NewVector(r.Vector)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert vector %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Search orders by Euclidean distance (<->).
func (s *PGVectorStore) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	q := fmt.Sprintf(`
		SELECT content, source, page, embedding <-> $1 AS distance
		FROM %s
		ORDER BY embedding <-> $1
		LIMIT $2
	`, s.table)
	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var (
			m    Match
			dist float64
		)
		if err := rows.Scan(&m.Content, &m.Metadata.Source, &m.Metadata.Page, &dist); err != nil {
			return nil, err
		}
		m.Distance = float32(dist)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/documentragflow/internal/models"
)

// BigQueryStore keeps vectors in a BigQuery table with columns
// doc_id, content, embedding and metadata, searched with ML.DISTANCE.
type BigQueryStore struct {
	client   *bigquery.Client
	dataset  string
	table    string
	location string
}

func NewBigQueryStore(client *bigquery.Client, dataset, table, location string) *BigQueryStore {
	return &BigQueryStore{client: client, dataset: dataset, table: table, location: location}
}

var bigQuerySchema = bigquery.Schema{
	{Name: "doc_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "content", Type: bigquery.StringFieldType},
	{Name: "embedding", Type: bigquery.FloatFieldType, Repeated: true},
	{Name: "metadata", Type: bigquery.JSONFieldType},
}

// EnsureTable creates the dataset and table when they do not exist yet.
func (s *BigQueryStore) EnsureTable(ctx context.Context) error {
	ds := s.client.Dataset(s.dataset)
	if _, err := ds.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("failed to read dataset %s: %w", s.dataset, err)
		}
		slog.Info("Dataset does not exist, creating.", "dataset", s.dataset, "location", s.location)
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: s.location}); err != nil && !isConflict(err) {
			return fmt.Errorf("failed to create dataset %s: %w", s.dataset, err)
		}
	}

	t := ds.Table(s.table)
	if _, err := t.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("failed to read table %s: %w", s.table, err)
		}
		slog.Info("Vector table does not exist, creating.", "table", s.table)
		if err := t.Create(ctx, &bigquery.TableMetadata{Schema: bigQuerySchema}); err != nil && !isConflict(err) {
			return fmt.Errorf("failed to create table %s: %w", s.table, err)
		}
	}
	return nil
}

// bigQueryRow implements bigquery.ValueSaver. The record id doubles as the
// streaming insert id so a retried insert is deduplicated on a best-effort basis.
type bigQueryRow struct {
	rec Record
}

func (r bigQueryRow) Save() (map[string]bigquery.Value, string, error) {
	meta, err := json.Marshal(r.rec.Metadata)
	if err != nil {
		return nil, "", err
	}
	vec := make([]float64, len(r.rec.Vector))
	for i, v := range r.rec.Vector {
		vec[i] = float64(v)
	}
	return map[string]bigquery.Value{
		"doc_id":    r.rec.ID,
		"content":   r.rec.Content,
		"embedding": vec,
		"metadata":  string(meta),
	}, r.rec.ID, nil
}

func (s *BigQueryStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]bigquery.ValueSaver, len(records))
	for i, r := range records {
		rows[i] = bigQueryRow{rec: r}
	}
	if err := s.client.Dataset(s.dataset).Table(s.table).Inserter().Put(ctx, rows); err != nil {
		return fmt.Errorf("bigquery insert %d rows: %w", len(rows), err)
	}
	return nil
}

func (s *BigQueryStore) searchSQL() string {
	return fmt.Sprintf("SELECT content, TO_JSON_STRING(metadata) AS metadata, ML.DISTANCE(embedding, @query, 'EUCLIDEAN') AS distance\n"+
		"FROM `%s.%s.%s`\nORDER BY distance\nLIMIT @k", s.client.Project(), s.dataset, s.table)
}

type bigQueryMatch struct {
	Content  string  `bigquery:"content"`
	Metadata string  `bigquery:"metadata"`
	Distance float64 `bigquery:"distance"`
}

func (s *BigQueryStore) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	query := make([]float64, len(vector))
	for i, v := range vector {
		query[i] = float64(v)
	}

	q := s.client.Query(s.searchSQL())
	q.Location = s.location
	q.Parameters = []bigquery.QueryParameter{
		{Name: "query", Value: query},
		{Name: "k", Value: k},
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery search: %w", err)
	}

	var out []Match
	for {
		var row bigQueryMatch
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery search rows: %w", err)
		}
		out = append(out, Match{
			Content:  row.Content,
			Metadata: decodeMetadata(row.Metadata),
			Distance: float32(row.Distance),
		})
	}
	return out, nil
}

func (s *BigQueryStore) Close() error {
	return s.client.Close()
}

func decodeMetadata(raw string) models.SpanMetadata {
	var meta models.SpanMetadata
	if raw == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		slog.Warn("Could not decode vector metadata", "metadata", raw, "error", err)
	}
	return meta
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func isConflict(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}

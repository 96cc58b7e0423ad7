// Package store persists documents, spans, leases and OCR job handles in Firestore.
//
// Layout:
//
//	{collection}/{filename}                 Document
//	{collection}/{filename}/{kind}/{p}.{i}  Span
//	{jobsCollection}/{collection}__{file}   OCRJob
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentragflow/internal/models"
)

// FirestoreStore implements the span store on top of a Firestore client.
type FirestoreStore struct {
	client         *firestore.Client
	kind           models.SpanKind
	jobsCollection string
	now            func() time.Time
}

// NewFirestoreStore creates a store whose spans live in the given kind subcollection.
func NewFirestoreStore(client *firestore.Client, kind models.SpanKind, jobsCollection string) *FirestoreStore {
	if kind == "" {
		kind = models.SpanKindParagraphs
	}
	if jobsCollection == "" {
		jobsCollection = "ocr-jobs"
	}
	return &FirestoreStore{client: client, kind: kind, jobsCollection: jobsCollection, now: time.Now}
}

func (s *FirestoreStore) docRef(key models.DocumentKey) *firestore.DocumentRef {
	return s.client.Collection(key.Collection).Doc(key.Filename)
}

func (s *FirestoreStore) spans(key models.DocumentKey) *firestore.CollectionRef {
	return s.docRef(key).Collection(string(s.kind))
}

func (s *FirestoreStore) unindexed(key models.DocumentKey) firestore.Query {
	return s.spans(key).Where("indexed", "==", false)
}

// PutSpans writes every span with indexed=false. Spans left over from an
// earlier ingestion of the same document that are not in spans are deleted.
func (s *FirestoreStore) PutSpans(ctx context.Context, key models.DocumentKey, spans []models.Span) error {
	keep := make(map[string]bool, len(spans))
	for _, span := range spans {
		keep[span.ID] = true
	}
	var stale []*firestore.DocumentRef
	refs := s.spans(key).DocumentRefs(ctx)
	for {
		ref, err := refs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list existing spans of %s: %w", key, err)
		}
		if !keep[ref.ID] {
			stale = append(stale, ref)
		}
	}
	if len(spans) == 0 && len(stale) == 0 {
		return nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(spans)+len(stale))
	for _, ref := range stale {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to enqueue delete of stale span %s: %w", ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	for _, span := range spans {
		span.Indexed = false
		job, err := bw.Set(s.spans(key).Doc(span.ID), span)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to enqueue span %s: %w", span.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to write spans of %s: %w", key, err)
		}
	}
	return nil
}

// documentFields are the fields ingestion owns. Lease fields belong to the
// indexer and survive a re-ingestion.
var documentFields = []firestore.FieldPath{{"text"}, {"status"}, {"languages"}, {"updatedAt"}}

// PutDocument writes the Document's text, status and languages, leaving any
// live lease in place.
func (s *FirestoreStore) PutDocument(ctx context.Context, key models.DocumentKey, doc models.Document) error {
	doc.UpdatedAt = s.now()
	if _, err := s.docRef(key).Set(ctx, doc, firestore.Merge(documentFields...)); err != nil {
		return fmt.Errorf("failed to write document %s: %w", key, err)
	}
	return nil
}

// GetStatus returns the document's current status.
func (s *FirestoreStore) GetStatus(ctx context.Context, key models.DocumentKey) (models.Status, error) {
	snap, err := s.docRef(key).Get(ctx)
	if err != nil {
		return models.StatusNone, notFound(err, key)
	}
	return statusOf(snap), nil
}

// ListUnindexed streams all spans with indexed=false.
func (s *FirestoreStore) ListUnindexed(ctx context.Context, key models.DocumentKey) ([]models.Span, error) {
	it := s.unindexed(key).Documents(ctx)
	defer it.Stop()

	var out []models.Span
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query unindexed spans of %s: %w", key, err)
		}
		var span models.Span
		if err := snap.DataTo(&span); err != nil {
			return nil, fmt.Errorf("failed to decode span %s: %w", snap.Ref.ID, err)
		}
		span.ID = snap.Ref.ID
		out = append(out, span)
	}
	return out, nil
}

// CountUnindexed counts spans with indexed=false using an aggregation query.
func (s *FirestoreStore) CountUnindexed(ctx context.Context, key models.DocumentKey) (int, error) {
	q := s.unindexed(key)
	res, err := q.NewAggregationQuery().WithCount("remaining").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count unindexed spans of %s: %w", key, err)
	}
	v, ok := res["remaining"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected count result type %T", res["remaining"])
	}
	return int(v.GetIntegerValue()), nil
}

// MarkIndexed flips exactly the given span ids to indexed=true in one transaction.
func (s *FirestoreStore) MarkIndexed(ctx context.Context, key models.DocumentKey, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, id := range ids {
			if err := tx.Update(s.spans(key).Doc(id), []firestore.Update{{Path: "indexed", Value: true}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark %d spans of %s indexed: %w", len(ids), key, err)
	}
	return nil
}

// Transition moves the document to a new status, rejecting illegal moves
// against the status read inside the same transaction.
func (s *FirestoreStore) Transition(ctx context.Context, key models.DocumentKey, to models.Status) (models.Status, error) {
	var from models.Status
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.docRef(key))
		if err != nil {
			return notFound(err, key)
		}
		from = statusOf(snap)
		if err := models.CheckTransition(from, to); err != nil {
			return err
		}
		if from == to {
			return nil
		}
		return tx.Update(s.docRef(key), []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: s.now()},
		})
	})
	if err != nil {
		return from, fmt.Errorf("transition %s to %q: %w", key, to, err)
	}
	return from, nil
}

// AcquireLease takes the per-document indexing lease for owner. A live lease
// held by someone else yields ErrLeaseHeld.
func (s *FirestoreStore) AcquireLease(ctx context.Context, key models.DocumentKey, owner string, ttl time.Duration) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.docRef(key))
		if err != nil {
			return notFound(err, key)
		}
		var doc models.Document
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("failed to decode document: %w", err)
		}
		now := s.now()
		if doc.LeaseOwner != "" && doc.LeaseOwner != owner && now.Before(doc.LeaseExpiresAt) {
			return fmt.Errorf("held by %s until %s: %w", doc.LeaseOwner, doc.LeaseExpiresAt.Format(time.RFC3339), models.ErrLeaseHeld)
		}
		return tx.Update(s.docRef(key), []firestore.Update{
			{Path: "leaseOwner", Value: owner},
			{Path: "leaseExpiresAt", Value: now.Add(ttl)},
		})
	})
	if err != nil {
		return fmt.Errorf("acquire lease on %s: %w", key, err)
	}
	return nil
}

// ReleaseLease clears the lease if owner still holds it.
func (s *FirestoreStore) ReleaseLease(ctx context.Context, key models.DocumentKey, owner string) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.docRef(key))
		if err != nil {
			return notFound(err, key)
		}
		if current, _ := snap.Data()["leaseOwner"].(string); current != owner {
			return nil
		}
		return tx.Update(s.docRef(key), []firestore.Update{
			{Path: "leaseOwner", Value: firestore.Delete},
			{Path: "leaseExpiresAt", Value: firestore.Delete},
		})
	})
	if err != nil {
		return fmt.Errorf("release lease on %s: %w", key, err)
	}
	return nil
}

func (s *FirestoreStore) jobRef(key models.DocumentKey) *firestore.DocumentRef {
	return s.client.Collection(s.jobsCollection).Doc(key.Collection + "__" + key.Filename)
}

// RecordJob stores the OCR job handle for a document.
func (s *FirestoreStore) RecordJob(ctx context.Context, key models.DocumentKey, job models.OCRJob) error {
	if _, err := s.jobRef(key).Set(ctx, job); err != nil {
		return fmt.Errorf("failed to record ocr job for %s: %w", key, err)
	}
	return nil
}

// GetJob loads the OCR job handle for a document.
func (s *FirestoreStore) GetJob(ctx context.Context, key models.DocumentKey) (models.OCRJob, error) {
	snap, err := s.jobRef(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return models.OCRJob{}, fmt.Errorf("%s: %w", key, models.ErrJobNotFound)
		}
		return models.OCRJob{}, fmt.Errorf("failed to read ocr job for %s: %w", key, err)
	}
	var job models.OCRJob
	if err := snap.DataTo(&job); err != nil {
		return models.OCRJob{}, fmt.Errorf("failed to decode ocr job for %s: %w", key, err)
	}
	return job, nil
}

func statusOf(snap *firestore.DocumentSnapshot) models.Status {
	v, _ := snap.Data()["status"].(string)
	return models.Status(v)
}

func notFound(err error, key models.DocumentKey) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s: %w", key, models.ErrDocumentNotFound)
	}
	if errors.Is(err, models.ErrDocumentNotFound) {
		return err
	}
	return fmt.Errorf("failed to read document %s: %w", key, err)
}

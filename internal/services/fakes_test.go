package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/documentragflow/internal/models"
)

// memStore is an in-memory span store for one or more documents.
type memStore struct {
	mu          sync.Mutex
	docs        map[models.DocumentKey]*models.Document
	spans       map[models.DocumentKey]map[string]models.Span
	jobs        map[models.DocumentKey]models.OCRJob
	transitions int
}

func newMemStore() *memStore {
	return &memStore{
		docs:  map[models.DocumentKey]*models.Document{},
		spans: map[models.DocumentKey]map[string]models.Span{},
		jobs:  map[models.DocumentKey]models.OCRJob{},
	}
}

func (m *memStore) PutSpans(_ context.Context, key models.DocumentKey, spans []models.Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]models.Span{}
	for _, s := range spans {
		s.Indexed = false
		set[s.ID] = s
	}
	m.spans[key] = set
	return nil
}

func (m *memStore) PutDocument(_ context.Context, key models.DocumentKey, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = &doc
	return nil
}

func (m *memStore) ListUnindexed(_ context.Context, key models.DocumentKey) ([]models.Span, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Span
	for _, s := range m.spans[key] {
		if !s.Indexed {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) MarkIndexed(_ context.Context, key models.DocumentKey, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		s, ok := m.spans[key][id]
		if !ok {
			return fmt.Errorf("span %s missing", id)
		}
		s.Indexed = true
		m.spans[key][id] = s
	}
	return nil
}

func (m *memStore) CountUnindexed(ctx context.Context, key models.DocumentKey) (int, error) {
	spans, err := m.ListUnindexed(ctx, key)
	return len(spans), err
}

func (m *memStore) GetStatus(_ context.Context, key models.DocumentKey) (models.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		return models.StatusNone, models.ErrDocumentNotFound
	}
	return doc.Status, nil
}

func (m *memStore) Transition(_ context.Context, key models.DocumentKey, to models.Status) (models.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		return models.StatusNone, models.ErrDocumentNotFound
	}
	from := doc.Status
	if err := models.CheckTransition(from, to); err != nil {
		return from, err
	}
	m.transitions++
	doc.Status = to
	return from, nil
}

func (m *memStore) AcquireLease(_ context.Context, key models.DocumentKey, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		return models.ErrDocumentNotFound
	}
	if doc.LeaseOwner != "" && doc.LeaseOwner != owner && time.Now().Before(doc.LeaseExpiresAt) {
		return models.ErrLeaseHeld
	}
	doc.LeaseOwner = owner
	doc.LeaseExpiresAt = time.Now().Add(ttl)
	return nil
}

func (m *memStore) ReleaseLease(_ context.Context, key models.DocumentKey, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[key]; ok && doc.LeaseOwner == owner {
		doc.LeaseOwner = ""
		doc.LeaseExpiresAt = time.Time{}
	}
	return nil
}

func (m *memStore) RecordJob(_ context.Context, key models.DocumentKey, job models.OCRJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[key] = job
	return nil
}

func (m *memStore) GetJob(_ context.Context, key models.DocumentKey) (models.OCRJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[key]
	if !ok {
		return models.OCRJob{}, models.ErrJobNotFound
	}
	return job, nil
}

func (m *memStore) status(key models.DocumentKey) models.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[key]; ok {
		return doc.Status
	}
	return models.StatusNone
}

func (m *memStore) indexed(key models.DocumentKey, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spans[key][id].Indexed
}

// seed stores n unindexed spans on page 1 and a Processing... document.
func (m *memStore) seed(key models.DocumentKey, n int) {
	spans := make([]models.Span, n)
	for i := range spans {
		spans[i] = models.Span{ID: models.SpanID(1, i), Text: fmt.Sprintf("paragraph %d", i), Page: 1}
	}
	_ = m.PutSpans(context.Background(), key, spans)
	_ = m.PutDocument(context.Background(), key, models.Document{Status: models.StatusProcessing})
}

// recordingWriter records every AddTexts call and can fail on one of them.
type recordingWriter struct {
	calls  [][]models.BatchItem
	failOn int // 1-based call number, 0 never fails
}

func (w *recordingWriter) AddTexts(_ context.Context, items []models.BatchItem) error {
	w.calls = append(w.calls, items)
	if w.failOn == len(w.calls) {
		return errors.New("embedding provider unavailable")
	}
	return nil
}

// scriptedOCR returns doc after pollsUntilDone polls, or never if negative.
type scriptedOCR struct {
	doc            *models.OCRDocument
	pollErr        error
	pollsUntilDone int
	polls          int
	submitted      []string
	disabled       bool
}

func (o *scriptedOCR) Submit(_ context.Context, inputURI, _ string, _ string) (string, error) {
	o.submitted = append(o.submitted, inputURI)
	return "projects/p/locations/us/operations/42", nil
}

func (o *scriptedOCR) Poll(ctx context.Context, _ string) (*models.OCRDocument, bool, error) {
	o.polls++
	if o.pollErr != nil {
		return nil, true, o.pollErr
	}
	if o.pollsUntilDone < 0 || o.polls <= o.pollsUntilDone {
		return nil, false, ctx.Err()
	}
	return o.doc, true, nil
}

func (o *scriptedOCR) DisableProcessor(context.Context) error {
	o.disabled = true
	return nil
}

// twoPageDocument has 3 paragraphs on page 1 and 2 on page 2.
func twoPageDocument() *models.OCRDocument {
	var b strings.Builder
	layout := func(s string) models.Layout {
		start := b.Len()
		b.WriteString(s)
		return models.Layout{{Start: start, End: b.Len()}}
	}
	p1 := models.OCRPage{
		Number:     1,
		Paragraphs: []models.Layout{layout("alpha "), layout("beta "), layout("gamma ")},
		Languages:  []models.DetectedLanguage{{Code: "en", Confidence: 0.9}},
	}
	p2 := models.OCRPage{
		Number:     2,
		Paragraphs: []models.Layout{layout("delta "), layout("epsilon")},
		Languages:  []models.DetectedLanguage{{Code: "en", Confidence: 0.95}, {Code: "fr", Confidence: 0.5}},
	}
	return &models.OCRDocument{Text: b.String(), Pages: []models.OCRPage{p1, p2}}
}

package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BatchSize is the maximum number of texts the embedding provider accepts per
// request. Larger batches are rejected by the provider, so it is not configurable.
const BatchSize = 5

// SpanKind names the span subcollection under a Document.
type SpanKind string

const (
	SpanKindParagraphs SpanKind = "paragraphs"
	SpanKindBlocks     SpanKind = "blocks"
)

// ParseSpanKind accepts "paragraphs" or "blocks"; an empty value means paragraphs.
func ParseSpanKind(v string) (SpanKind, error) {
	switch SpanKind(strings.ToLower(strings.TrimSpace(v))) {
	case "", SpanKindParagraphs:
		return SpanKindParagraphs, nil
	case SpanKindBlocks:
		return SpanKindBlocks, nil
	default:
		return "", fmt.Errorf("unknown span kind %q: %w", v, ErrInvalidInput)
	}
}

// Span is one paragraph (or block) of extracted text.
type Span struct {
	ID      string `firestore:"-"`
	Text    string `firestore:"text"`
	Page    int    `firestore:"page"`
	Indexed bool   `firestore:"indexed"`
}

// SpanID builds the "{page}.{ordinal}" identifier.
func SpanID(page, ordinal int) string {
	return strconv.Itoa(page) + "." + strconv.Itoa(ordinal)
}

// ParseSpanID splits a "{page}.{ordinal}" identifier.
func ParseSpanID(id string) (page, ordinal int, err error) {
	p, o, ok := strings.Cut(id, ".")
	if !ok {
		return 0, 0, fmt.Errorf("span id %q: %w", id, ErrInvalidInput)
	}
	if page, err = strconv.Atoi(p); err != nil {
		return 0, 0, fmt.Errorf("span id %q: %w", id, ErrInvalidInput)
	}
	if ordinal, err = strconv.Atoi(o); err != nil {
		return 0, 0, fmt.Errorf("span id %q: %w", id, ErrInvalidInput)
	}
	return page, ordinal, nil
}

// SortSpans orders spans by page then ordinal. Firestore returns ids in
// lexical order ("1.10" before "1.2"), which is not reading order.
func SortSpans(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		pi, oi, erri := ParseSpanID(spans[i].ID)
		pj, oj, errj := ParseSpanID(spans[j].ID)
		if erri != nil || errj != nil {
			return spans[i].ID < spans[j].ID
		}
		if pi != pj {
			return pi < pj
		}
		return oi < oj
	})
}

// SpanMetadata is stored next to each vector.
type SpanMetadata struct {
	Source string `json:"source"`
	Page   int    `json:"page"`
}

// BatchItem carries a span through one embed+store round trip. The span id
// travels with the text so the tracker flips by id, never by content.
type BatchItem struct {
	Key      DocumentKey
	SpanID   string
	Text     string
	Metadata SpanMetadata
}

package services

import (
	"reflect"
	"testing"
	"unicode/utf8"

	"github.com/Lllllllleong/documentragflow/internal/models"
)

func TestLayoutText(t *testing.T) {
	got := LayoutText("ABCDEFGHIJ", models.Layout{{Start: 0, End: 3}, {Start: 5, End: 7}})
	if got != "ABCFG" {
		t.Fatalf("LayoutText = %q, want %q", got, "ABCFG")
	}
}

func TestLayoutTextCountsCharacters(t *testing.T) {
	got := LayoutText("Café Crème", models.Layout{{Start: 0, End: 4}, {Start: 5, End: 10}})
	if got != "CaféCrème" {
		t.Fatalf("LayoutText = %q, want %q", got, "CaféCrème")
	}
	if got := LayoutText("Ça va", models.Layout{{Start: 3, End: 99}}); got != "va" {
		t.Fatalf("clamped LayoutText = %q, want %q", got, "va")
	}
}

func TestBuildSpansKeepsAccentedTextValid(t *testing.T) {
	doc := &models.OCRDocument{
		Text: "Résumé des pièces\nVérifier la pompe",
		Pages: []models.OCRPage{{
			Number:     1,
			Paragraphs: []models.Layout{{{Start: 0, End: 18}}, {{Start: 18, End: 35}}},
		}},
	}
	spans := BuildSpans(doc, models.SpanKindParagraphs)
	want := []string{"Résumé des pièces\n", "Vérifier la pompe"}
	if len(spans) != len(want) {
		t.Fatalf("got %d spans, want %d", len(spans), len(want))
	}
	for i, span := range spans {
		if !utf8.ValidString(span.Text) {
			t.Fatalf("span %s is not valid UTF-8: %q", span.ID, span.Text)
		}
		if span.Text != want[i] {
			t.Fatalf("span %s = %q, want %q", span.ID, span.Text, want[i])
		}
	}
}

func TestLayoutTextClampsOutOfRange(t *testing.T) {
	cases := []struct {
		name   string
		layout models.Layout
		want   string
	}{
		{"end past text", models.Layout{{Start: 8, End: 40}}, "IJ"},
		{"negative start", models.Layout{{Start: -3, End: 2}}, "AB"},
		{"entirely outside", models.Layout{{Start: 20, End: 30}}, ""},
		{"inverted", models.Layout{{Start: 5, End: 2}}, ""},
		{"empty layout", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := LayoutText("ABCDEFGHIJ", tc.layout); got != tc.want {
				t.Fatalf("LayoutText = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAggregateLanguages(t *testing.T) {
	pages := []models.OCRPage{
		{Languages: []models.DetectedLanguage{{Code: "en", Confidence: 0.9}}},
		{Languages: []models.DetectedLanguage{{Code: "en", Confidence: 0.95}, {Code: "fr", Confidence: 0.5}}},
	}
	if got := AggregateLanguages(pages); !reflect.DeepEqual(got, []string{"en"}) {
		t.Fatalf("AggregateLanguages = %v, want [en]", got)
	}
}

func TestAggregateLanguagesThresholdIsExclusive(t *testing.T) {
	pages := []models.OCRPage{
		{Languages: []models.DetectedLanguage{{Code: "de", Confidence: 0.8}, {Code: "ja", Confidence: 0.81}}},
		{Languages: []models.DetectedLanguage{{Code: "en", Confidence: 0.99}}},
	}
	if got := AggregateLanguages(pages); !reflect.DeepEqual(got, []string{"ja", "en"}) {
		t.Fatalf("AggregateLanguages = %v, want [ja en]", got)
	}
}

func TestBuildSpans(t *testing.T) {
	doc := twoPageDocument()
	spans := BuildSpans(doc, models.SpanKindParagraphs)
	if len(spans) != 5 {
		t.Fatalf("expected 5 spans, got %d", len(spans))
	}
	wantIDs := []string{"1.0", "1.1", "1.2", "2.0", "2.1"}
	for i, s := range spans {
		if s.ID != wantIDs[i] {
			t.Fatalf("span %d id = %s, want %s", i, s.ID, wantIDs[i])
		}
		if s.Indexed {
			t.Fatalf("span %s must start unindexed", s.ID)
		}
	}
	if spans[3].Text != "delta " || spans[3].Page != 2 {
		t.Fatalf("span 2.0 = %+v", spans[3])
	}
}

func TestBuildSpansBlocks(t *testing.T) {
	doc := &models.OCRDocument{
		Text: "header body",
		Pages: []models.OCRPage{{
			Number:     1,
			Paragraphs: []models.Layout{{{Start: 0, End: 6}}, {{Start: 7, End: 11}}},
			Blocks:     []models.Layout{{{Start: 0, End: 11}}},
		}},
	}
	spans := BuildSpans(doc, models.SpanKindBlocks)
	if len(spans) != 1 || spans[0].Text != "header body" {
		t.Fatalf("blocks = %+v", spans)
	}
}

func TestPartition(t *testing.T) {
	cases := []struct {
		n         int
		wantCalls int
		wantLast  int
	}{
		{0, 0, 0},
		{1, 1, 1},
		{5, 1, 5},
		{6, 2, 1},
		{12, 3, 2},
		{15, 3, 5},
	}
	for _, tc := range cases {
		spans := make([]models.Span, tc.n)
		for i := range spans {
			spans[i] = models.Span{ID: models.SpanID(1, i)}
		}
		batches := Partition(spans, models.BatchSize)
		if len(batches) != tc.wantCalls {
			t.Fatalf("n=%d: %d batches, want %d", tc.n, len(batches), tc.wantCalls)
		}
		seen := 0
		for _, b := range batches {
			if len(b) > models.BatchSize {
				t.Fatalf("n=%d: batch of %d exceeds limit", tc.n, len(b))
			}
			for _, s := range b {
				if s.ID != spans[seen].ID {
					t.Fatalf("n=%d: order broken at %d", tc.n, seen)
				}
				seen++
			}
		}
		if seen != tc.n {
			t.Fatalf("n=%d: covered %d spans", tc.n, seen)
		}
		if tc.n > 0 && len(batches[len(batches)-1]) != tc.wantLast {
			t.Fatalf("n=%d: last batch %d, want %d", tc.n, len(batches[len(batches)-1]), tc.wantLast)
		}
	}
}

func TestPartitionCapsSizeAtProviderLimit(t *testing.T) {
	spans := make([]models.Span, 7)
	if got := len(Partition(spans, 50)); got != 2 {
		t.Fatalf("expected 2 batches, got %d", got)
	}
}

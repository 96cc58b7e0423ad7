package services

import (
	"strings"

	"github.com/Lllllllleong/documentragflow/internal/models"
)

// languageConfidenceThreshold is exclusive: a guess at exactly 0.8 is dropped.
const languageConfidenceThreshold = 0.8

// LayoutText concatenates text[start:end] for each segment in listed order.
// Offsets count characters, not bytes. Segments outside the text are clamped
// rather than rejected.
func LayoutText(text string, layout models.Layout) string {
	return layoutRunes([]rune(text), layout)
}

func layoutRunes(text []rune, layout models.Layout) string {
	var b strings.Builder
	for _, seg := range layout {
		start, end := clamp(seg.Start, len(text)), clamp(seg.End, len(text))
		if start >= end {
			continue
		}
		b.WriteString(string(text[start:end]))
	}
	return b.String()
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}

// AggregateLanguages returns distinct language codes detected with
// confidence above the threshold, in order of first appearance.
func AggregateLanguages(pages []models.OCRPage) []string {
	seen := make(map[string]bool)
	var out []string
	for _, page := range pages {
		for _, lang := range page.Languages {
			if lang.Code == "" || lang.Confidence <= languageConfidenceThreshold || seen[lang.Code] {
				continue
			}
			seen[lang.Code] = true
			out = append(out, lang.Code)
		}
	}
	return out
}

// BuildSpans emits one unindexed span per paragraph (or block) of each page,
// keyed "{page}.{index}".
func BuildSpans(doc *models.OCRDocument, kind models.SpanKind) []models.Span {
	var spans []models.Span
	text := []rune(doc.Text)
	for _, page := range doc.Pages {
		layouts := page.Paragraphs
		if kind == models.SpanKindBlocks {
			layouts = page.Blocks
		}
		for i, layout := range layouts {
			spans = append(spans, models.Span{
				ID:   models.SpanID(page.Number, i),
				Text: layoutRunes(text, layout),
				Page: page.Number,
			})
		}
	}
	return spans
}

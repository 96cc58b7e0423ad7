package models

// TextSegment is a [Start, End) offset range into the full document text.
type TextSegment struct {
	Start int
	End   int
}

// Layout is the list of segments making up one paragraph or block. A
// paragraph may be non-contiguous in the source text.
type Layout []TextSegment

// DetectedLanguage is a language guess for a page.
type DetectedLanguage struct {
	Code       string
	Confidence float32
}

// OCRPage is one page of OCR output.
type OCRPage struct {
	Number     int
	Paragraphs []Layout
	Blocks     []Layout
	Languages  []DetectedLanguage
}

// OCRDocument is the engine-neutral result of an OCR job.
type OCRDocument struct {
	Text  string
	Pages []OCRPage
}

package ocr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/Lllllllleong/documentragflow/internal/gcp"
	"github.com/Lllllllleong/documentragflow/internal/models"
)

var unmarshalOpts = protojson.UnmarshalOptions{DiscardUnknown: true}

// collect downloads every JSON shard under an output destination
// (gs://BUCKET/PREFIX/OPERATION_NUMBER/INPUT_FILE_NUMBER/). Blobs that are
// not JSON or do not parse are skipped with a warning.
func (c *Client) collect(ctx context.Context, destination string) ([]*documentaipb.Document, error) {
	bucket, prefix, err := gcp.ParseGCSURI(destination)
	if err != nil {
		slog.Warn("Could not parse output GCS destination, skipping.", "destination", destination, "error", err)
		return nil, nil
	}

	var names []string
	it := c.storage.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list OCR output in %s: %w", destination, err)
		}
		if attrs.ContentType != "application/json" {
			slog.Warn("Skipping non-supported file.", "object", attrs.Name, "contentType", attrs.ContentType)
			continue
		}
		names = append(names, attrs.Name)
	}
	sort.Strings(names)

	docs := make([]*documentaipb.Document, len(names))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.cfg.ShardConcurrency)
	for i, name := range names {
		i, name := i, name
		eg.Go(func() error {
			raw, err := c.read(gctx, bucket, name)
			if err != nil {
				return err
			}
			doc, ok := ParseDocumentJSON(raw)
			if !ok {
				slog.Warn("Skipping unparsable OCR output.", "object", name)
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := docs[:0]
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Client) read(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := c.storage.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	return raw, nil
}

// ParseDocumentJSON decodes one Document AI output file.
func ParseDocumentJSON(raw []byte) (*documentaipb.Document, bool) {
	var doc documentaipb.Document
	if err := unmarshalOpts.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

// MergeShards joins the shards of one input document in shard order.
// Text anchors in shards index the overall text in characters, so each
// segment is rebased from the shard's global text offset to where its text
// lands in the merge.
func MergeShards(shards []*documentaipb.Document) *models.OCRDocument {
	sorted := append([]*documentaipb.Document(nil), shards...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].GetShardInfo().GetShardIndex() < sorted[j].GetShardInfo().GetShardIndex()
	})

	out := &models.OCRDocument{}
	var text strings.Builder
	var chars int
	for _, shard := range sorted {
		shift := chars - int(shard.GetShardInfo().GetTextOffset())
		text.WriteString(shard.GetText())
		chars += utf8.RuneCountInString(shard.GetText())
		for _, p := range shard.GetPages() {
			out.Pages = append(out.Pages, convertPage(p, shift))
		}
	}
	out.Text = text.String()
	return out
}

func convertPage(p *documentaipb.Document_Page, shift int) models.OCRPage {
	page := models.OCRPage{Number: int(p.GetPageNumber())}
	for _, para := range p.GetParagraphs() {
		page.Paragraphs = append(page.Paragraphs, convertLayout(para.GetLayout(), shift))
	}
	for _, block := range p.GetBlocks() {
		page.Blocks = append(page.Blocks, convertLayout(block.GetLayout(), shift))
	}
	for _, lang := range p.GetDetectedLanguages() {
		page.Languages = append(page.Languages, models.DetectedLanguage{
			Code:       lang.GetLanguageCode(),
			Confidence: lang.GetConfidence(),
		})
	}
	return page
}

func convertLayout(l *documentaipb.Document_Page_Layout, shift int) models.Layout {
	segments := l.GetTextAnchor().GetTextSegments()
	layout := make(models.Layout, 0, len(segments))
	for _, s := range segments {
		layout = append(layout, models.TextSegment{
			Start: int(s.GetStartIndex()) + shift,
			End:   int(s.GetEndIndex()) + shift,
		})
	}
	return layout
}

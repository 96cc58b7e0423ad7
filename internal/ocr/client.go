// Package ocr wraps the Document AI batch OCR API: processor lifecycle,
// job submission, polling and collection of the JSON output written to GCS.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentragflow/internal/gcp"
	"github.com/Lllllllleong/documentragflow/internal/models"
)

// Config holds the Document AI settings for a deployment.
type Config struct {
	ProjectID            string
	Location             string
	ProcessorDisplayName string
	ProcessorType        string
	OutputBucket         string
	ShardConcurrency     int
}

// Client submits and completes batch OCR jobs.
type Client struct {
	docai   *documentai.DocumentProcessorClient
	storage *storage.Client
	cfg     Config

	mu            sync.Mutex
	processorName string
}

// New creates a Client from already constructed service clients.
func New(docai *documentai.DocumentProcessorClient, storageClient *storage.Client, cfg Config) *Client {
	if cfg.ProcessorType == "" {
		cfg.ProcessorType = "OCR_PROCESSOR"
	}
	if cfg.ShardConcurrency <= 0 {
		cfg.ShardConcurrency = 4
	}
	return &Client{docai: docai, storage: storageClient, cfg: cfg}
}

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.cfg.ProjectID, c.cfg.Location)
}

// EnsureProcessor returns the resource name of the configured processor,
// creating it when no processor with the display name exists.
func (c *Client) EnsureProcessor(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processorName != "" {
		return c.processorName, nil
	}

	it := c.docai.ListProcessors(ctx, &documentaipb.ListProcessorsRequest{Parent: c.parent()})
	for {
		p, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to list processors: %w", err)
		}
		if p.GetDisplayName() == c.cfg.ProcessorDisplayName {
			slog.Info("Processor already exists.", "processor", p.GetName())
			c.processorName = p.GetName()
			return c.processorName, nil
		}
	}

	slog.Info("Processor does not exist, creating.", "displayName", c.cfg.ProcessorDisplayName, "type", c.cfg.ProcessorType)
	p, err := c.docai.CreateProcessor(ctx, &documentaipb.CreateProcessorRequest{
		Parent: c.parent(),
		Processor: &documentaipb.Processor{
			DisplayName: c.cfg.ProcessorDisplayName,
			Type:        c.cfg.ProcessorType,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create processor: %w", err)
	}
	c.processorName = p.GetName()
	return c.processorName, nil
}

// EnableProcessor enables the processor. Enabling an enabled processor is not an error.
func (c *Client) EnableProcessor(ctx context.Context, name string) error {
	op, err := c.docai.EnableProcessor(ctx, &documentaipb.EnableProcessorRequest{Name: name})
	if err == nil {
		_, err = op.Wait(ctx)
	}
	if isFailedPrecondition(err) {
		slog.Info("Processor already enabled.", "processor", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enable processor %s: %w", name, err)
	}
	return nil
}

// DisableProcessor disables the processor to stop it accruing cost.
// Disabling a disabled processor is not an error.
func (c *Client) DisableProcessor(ctx context.Context) error {
	name, err := c.EnsureProcessor(ctx)
	if err != nil {
		return err
	}
	op, err := c.docai.DisableProcessor(ctx, &documentaipb.DisableProcessorRequest{Name: name})
	if err == nil {
		_, err = op.Wait(ctx)
	}
	if isFailedPrecondition(err) {
		slog.Info("Processor already disabled.", "processor", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to disable processor %s: %w", name, err)
	}
	return nil
}

// Submit starts a batch OCR job for one GCS object and returns the operation name.
func (c *Client) Submit(ctx context.Context, inputURI, mimeType, outputPrefix string) (string, error) {
	name, err := c.EnsureProcessor(ctx)
	if err != nil {
		return "", err
	}
	if err := c.EnableProcessor(ctx, name); err != nil {
		return "", err
	}

	outputURI := gcp.GCSURI(c.cfg.OutputBucket, strings.Trim(outputPrefix, "/")+"/")
	req := &documentaipb.BatchProcessRequest{
		Name: name,
		InputDocuments: &documentaipb.BatchDocumentsInputConfig{
			Source: &documentaipb.BatchDocumentsInputConfig_GcsDocuments{
				GcsDocuments: &documentaipb.GcsDocuments{
					Documents: []*documentaipb.GcsDocument{{GcsUri: inputURI, MimeType: mimeType}},
				},
			},
		},
		DocumentOutputConfig: &documentaipb.DocumentOutputConfig{
			Destination: &documentaipb.DocumentOutputConfig_GcsOutputConfig_{
				GcsOutputConfig: &documentaipb.DocumentOutputConfig_GcsOutputConfig{GcsUri: outputURI},
			},
		},
	}

	op, err := c.docai.BatchProcessDocuments(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to submit batch process request: %w", err)
	}
	slog.Info("Submitted batch OCR job.", "operation", op.Name(), "input", inputURI, "output", outputURI)
	return op.Name(), nil
}

// Poll checks the job once. It returns done=false while the job is running.
// A job that ended in any state other than SUCCEEDED yields ErrOCRFailed.
func (c *Client) Poll(ctx context.Context, operationName string) (*models.OCRDocument, bool, error) {
	op := c.docai.BatchProcessDocumentsOperation(operationName)
	_, pollErr := op.Poll(ctx)
	if !op.Done() {
		if pollErr != nil {
			return nil, false, fmt.Errorf("failed to poll operation %s: %w", operationName, pollErr)
		}
		return nil, false, nil
	}

	meta, err := op.Metadata()
	if err != nil {
		return nil, true, fmt.Errorf("failed to read metadata of %s: %w", operationName, err)
	}
	if pollErr != nil || meta.GetState() != documentaipb.BatchProcessMetadata_SUCCEEDED {
		return nil, true, fmt.Errorf("%w: state=%s message=%q err=%v", models.ErrOCRFailed, meta.GetState(), meta.GetStateMessage(), pollErr)
	}

	var shards []*documentaipb.Document
	for _, process := range meta.GetIndividualProcessStatuses() {
		docs, err := c.collect(ctx, process.GetOutputGcsDestination())
		if err != nil {
			return nil, true, err
		}
		shards = append(shards, docs...)
		// One input document per job; the first destination holds all of its shards.
		if len(docs) > 0 {
			break
		}
	}
	if len(shards) == 0 {
		return nil, true, fmt.Errorf("%w: operation %s produced no readable output", models.ErrOCRFailed, operationName)
	}
	return MergeShards(shards), true, nil
}

// MIMETypeFor guesses the OCR input MIME type from the object name.
func MIMETypeFor(object string) string {
	switch strings.ToLower(path.Ext(object)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/pdf"
	}
}

func isFailedPrecondition(err error) bool {
	return err != nil && status.Code(err) == codes.FailedPrecondition
}

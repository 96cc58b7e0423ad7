package gcp

import (
	"context"
	"fmt"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"google.golang.org/api/option"
)

// NewPredictionClient creates a Vertex AI prediction client against the regional endpoint.
func NewPredictionClient(ctx context.Context, region string) (*aiplatform.PredictionClient, error) {
	if region == "" {
		return nil, fmt.Errorf("region must be provided to create a prediction client")
	}
	endpoint := fmt.Sprintf("%s-aiplatform.googleapis.com:443", region)
	client, err := aiplatform.NewPredictionClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI prediction client: %w", err)
	}
	return client, nil
}

// PublisherModel returns the resource name of a Google-published model.
func PublisherModel(projectID, region, model string) string {
	return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", projectID, region, model)
}

package embedding

import (
	"context"
	"fmt"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// predictor is the subset of the Vertex AI prediction client used here.
type predictor interface {
	Predict(ctx context.Context, req *aiplatformpb.PredictRequest, opts ...gax.CallOption) (*aiplatformpb.PredictResponse, error)
}

// VertexEmbedder calls a Vertex AI text embedding model such as textembedding-gecko@003.
type VertexEmbedder struct {
	client   predictor
	endpoint string
}

// NewVertexEmbedder wraps a prediction client. endpoint is the publisher model
// resource name, see gcp.PublisherModel.
func NewVertexEmbedder(client predictor, endpoint string) *VertexEmbedder {
	return &VertexEmbedder{client: client, endpoint: endpoint}
}

func (v *VertexEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkBatch(texts); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	return v.predict(ctx, texts, taskRetrievalDocument)
}

func (v *VertexEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := v.predict(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (v *VertexEmbedder) predict(ctx context.Context, texts []string, task string) ([][]float32, error) {
	instances := make([]*structpb.Value, 0, len(texts))
	for _, t := range texts {
		inst, err := structpb.NewStruct(map[string]any{"content": t, "task_type": task})
		if err != nil {
			return nil, fmt.Errorf("failed to build embedding instance: %w", err)
		}
		instances = append(instances, structpb.NewStructValue(inst))
	}

	resp, err := v.client.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:  v.endpoint,
		Instances: instances,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex embedding predict: %w", err)
	}
	vectors, err := parsePredictions(resp.GetPredictions())
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("vertex returned %d embeddings for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

// parsePredictions reads {"embeddings": {"values": [...]}} from each prediction.
func parsePredictions(predictions []*structpb.Value) ([][]float32, error) {
	out := make([][]float32, 0, len(predictions))
	for i, p := range predictions {
		emb := p.GetStructValue().GetFields()["embeddings"].GetStructValue()
		values := emb.GetFields()["values"].GetListValue().GetValues()
		if len(values) == 0 {
			return nil, fmt.Errorf("prediction %d has no embedding values", i)
		}
		vec := make([]float32, len(values))
		for j, val := range values {
			vec[j] = float32(val.GetNumberValue())
		}
		out = append(out, vec)
	}
	return out, nil
}

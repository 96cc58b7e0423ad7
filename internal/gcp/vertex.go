package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Query Model Prompts ---
const QuerySystemPrompt = "You are a chatbot used for answering questions based on provided context."
const QueryUserPromptTemplate = `Use the following pieces of context to answer the question at the end. If the context does not contain the answer, say that you don't know.

%s

Question: %s
Helpful Answer:`

// VertexClient holds the pre-configured generative model used to answer queries.
type VertexClient struct {
	ChatModel  *genai.GenerativeModel
	baseClient *genai.Client
}

// NewVertexClient creates a new client holding the chat model.
func NewVertexClient(ctx context.Context, projectID, region, chatModel string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if chatModel == "" {
		chatModel = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(chatModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(QuerySystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.2), // answers should stick to the retrieved context
	}

	return &VertexClient{
		ChatModel:  model,
		baseClient: baseClient,
	}, nil
}

// Generate sends a single prompt to the chat model and returns the concatenated text parts.
func (c *VertexClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.ChatModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate answer from gemini: %w", err)
	}
	return extractText(resp), nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// extractText robustly parses the model's response to get the text content.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

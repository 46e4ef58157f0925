package llm

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// Vertex calls Gemini models on Vertex AI.
type Vertex struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewVertex connects to Vertex AI for the given project and region.
func NewVertex(ctx context.Context, projectID, region, model string, temperature float32) (*Vertex, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex: project and region cannot be empty")
	}

	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &Vertex{client: client, model: model, temperature: temperature}, nil
}

// Generate implements Generator.
func (v *Vertex) Generate(ctx context.Context, req Request) (string, error) {
	model := v.client.GenerativeModel(v.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(v.temperature),
	}
	if req.JSON {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	return geminiText(resp)
}

// Close releases the underlying client.
func (v *Vertex) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyReply
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyReply
	}
	return sb.String(), nil
}

package summarizer

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// Vertex summarizes with a Gemini model on Vertex AI.
type Vertex struct {
	model      *genai.GenerativeModel
	modelName  string
	baseClient *genai.Client
}

// NewVertex configures a JSON-only model with the meeting notes system prompt.
func NewVertex(ctx context.Context, projectID, region, modelName string) (*Vertex, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertex: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.5),
		MaxOutputTokens:  genai.Ptr[int32](1200),
	}

	return &Vertex{model: model, modelName: modelName, baseClient: baseClient}, nil
}

func (v *Vertex) Model() string { return v.modelName }

func (v *Vertex) Summarize(ctx context.Context, transcript string) (*Result, error) {
	resp, err := v.model.GenerateContent(ctx, genai.Text(UserPrompt(transcript)))
	if err != nil {
		return nil, fmt.Errorf("failed to generate summary from gemini: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("gemini returned no content")
	}
	res := &Result{Text: text, Model: v.modelName}
	if resp.UsageMetadata != nil {
		res.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return res, nil
}

func (v *Vertex) Close() error {
	if v.baseClient != nil {
		return v.baseClient.Close()
	}
	return nil
}

// responseText joins the text parts of the first candidate and drops a
// surrounding code fence.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	s := strings.TrimSpace(sb.String())
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

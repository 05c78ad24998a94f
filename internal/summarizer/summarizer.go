// Package summarizer turns a meeting transcription into structured notes
// through a remote LLM.
package summarizer

import (
	"context"
	"fmt"
)

// Result is the raw model output and its accounting.
type Result struct {
	Text       string
	TokensUsed int
	Model      string
}

// Summarizer is a pluggable LLM backend.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (*Result, error)
	// Model names the model requests are sent to.
	Model() string
}

const SystemPrompt = "You are a precise meeting notes assistant. Extract ONLY essential information. Be extremely concise. Return valid JSON only."

const userPromptTemplate = `Analyze this meeting transcription and provide a BRIEF, PRECISE summary.

BE CONCISE - Keep everything short and essential:

1. **Summary**: 2-3 sentences maximum capturing the core purpose and outcome
2. **Key Points**: Top 3-5 points only, each one sentence
3. **Action Items**: List only clear tasks with owners
4. **Decisions**: Top 3 critical decisions only
5. **Participants**: Names mentioned in the meeting

Transcription:
%s

IMPORTANT: Return valid JSON. Be extremely concise - NO fluff, NO repetition:
{
    "summary": "Brief 2-3 sentence overview",
    "key_points": ["Point 1", "Point 2", "Point 3"],
    "action_items": [{"item": "Brief task", "owner": "Name"}],
    "decisions": ["Decision 1", "Decision 2"],
    "participants": ["Name 1", "Name 2"]
}

If any section has no data, use an empty array []. Focus on brevity and precision.`

// UserPrompt embeds the transcription into the summary instructions.
func UserPrompt(transcript string) string {
	return fmt.Sprintf(userPromptTemplate, transcript)
}

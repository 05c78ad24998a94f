// Package transcriber turns meeting audio into text through a remote
// speech-to-text API.
package transcriber

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Audio is the input to a transcription request.
type Audio struct {
	Filename string
	MIMEType string
	Body     io.Reader
}

// Result is what the provider reported back.
type Result struct {
	Text            string
	Language        string
	DurationSeconds *float64
}

// Transcriber is a pluggable speech-to-text backend.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (*Result, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &http.Client{Timeout: timeout}
}

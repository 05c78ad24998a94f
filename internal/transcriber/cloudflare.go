package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const DefaultCloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// Cloudflare Workers AI backend.
// POST {base}/accounts/{account_id}/ai/run/{model} with a bearer API token.
type Cloudflare struct {
	accountID string
	apiToken  string
	model     string
	BaseURL   string
	hc        *http.Client
}

func NewCloudflare(accountID, apiToken, model string, timeout time.Duration) *Cloudflare {
	return &Cloudflare{
		accountID: accountID,
		apiToken:  apiToken,
		model:     model,
		BaseURL:   DefaultCloudflareBaseURL,
		hc:        newHTTPClient(timeout),
	}
}

type cfResp struct {
	Success bool            `json:"success"`
	Errors  []cfError       `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type cfError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cfWhisperResult struct {
	Text              string `json:"text"`
	TranscriptionInfo *struct {
		Language string   `json:"language"`
		Duration *float64 `json:"duration"`
	} `json:"transcription_info"`
}

func (c *Cloudflare) Transcribe(ctx context.Context, audio Audio) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := createAudioPart(mw, audio)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, audio.Body); err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", strings.TrimRight(c.BaseURL, "/"), c.accountID, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cloudflare http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var cr cfResp
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode cloudflare response: %w", err)
	}
	if !cr.Success {
		msgs := make([]string, 0, len(cr.Errors))
		for _, e := range cr.Errors {
			msgs = append(msgs, fmt.Sprintf("%d %s", e.Code, e.Message))
		}
		return nil, fmt.Errorf("cloudflare response not successful: %s", strings.Join(msgs, "; "))
	}
	var wr cfWhisperResult
	if err := json.Unmarshal(cr.Result, &wr); err != nil {
		return nil, fmt.Errorf("cloudflare unexpected result: %w", err)
	}
	res := &Result{Text: wr.Text}
	if wr.TranscriptionInfo != nil {
		res.Language = wr.TranscriptionInfo.Language
		res.DurationSeconds = wr.TranscriptionInfo.Duration
	}
	return res, nil
}

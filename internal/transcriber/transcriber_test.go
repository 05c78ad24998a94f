package transcriber

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOpenAITranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("response_format") != "verbose_json" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		if string(b) != "fake-audio" || hdr.Filename != "standup.mp3" {
			t.Errorf("file %q named %q", b, hdr.Filename)
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "audio/mpeg" {
			t.Errorf("part content type = %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"task":"transcribe","language":"english","duration":12.5,"text":"Hello team."}`)
	}))
	defer srv.Close()

	c := NewOpenAI("sk-test", "whisper-1", srv.URL+"/v1/", time.Second)
	res, err := c.Transcribe(context.Background(), Audio{
		Filename: "standup.mp3",
		MIMEType: "audio/mpeg",
		Body:     strings.NewReader("fake-audio"),
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "Hello team." || res.Language != "english" {
		t.Errorf("result = %+v", res)
	}
	if res.DurationSeconds == nil || *res.DurationSeconds != 12.5 {
		t.Errorf("duration = %v", res.DurationSeconds)
	}
}

func TestOpenAITranscribeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid file format."}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOpenAI("sk-test", "whisper-1", srv.URL, time.Second)
	_, err := c.Transcribe(context.Background(), Audio{Filename: "a.mp3", Body: strings.NewReader("x")})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "openai http 400") || !strings.Contains(err.Error(), "Invalid file format.") {
		t.Errorf("err = %v", err)
	}
}

func TestOpenAITranscribeWithoutDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":"short"}`)
	}))
	defer srv.Close()

	res, err := NewOpenAI("k", "whisper-1", srv.URL, time.Second).
		Transcribe(context.Background(), Audio{Filename: "a.wav", Body: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.DurationSeconds != nil || res.Language != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestCloudflareTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acct/ai/run/@cf/openai/whisper" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer cf-token" {
			t.Errorf("auth = %q", got)
		}
		io.WriteString(w, `{"success":true,"errors":[],"result":{"text":"We ship Friday.","transcription_info":{"language":"en","duration":3.2}}}`)
	}))
	defer srv.Close()

	c := NewCloudflare("acct", "cf-token", "@cf/openai/whisper", time.Second)
	c.BaseURL = srv.URL
	res, err := c.Transcribe(context.Background(), Audio{Filename: "a.webm", MIMEType: "audio/webm", Body: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "We ship Friday." || res.Language != "en" || res.DurationSeconds == nil || *res.DurationSeconds != 3.2 {
		t.Errorf("result = %+v", res)
	}
}

func TestCloudflareNotSuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"errors":[{"code":5006,"message":"model unavailable"}],"result":null}`)
	}))
	defer srv.Close()

	c := NewCloudflare("acct", "cf-token", "@cf/openai/whisper", time.Second)
	c.BaseURL = srv.URL
	_, err := c.Transcribe(context.Background(), Audio{Filename: "a.webm", Body: strings.NewReader("x")})
	if err == nil || !strings.Contains(err.Error(), "5006 model unavailable") {
		t.Errorf("err = %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/config"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/storage"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/summarizer"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/transcriber"
)

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	switch cfg.StorageBackend {
	case config.StorageLocal:
		s, err := storage.NewLocal(cfg.UploadDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.StorageGCS:
		s, err := storage.NewGCS(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Warn("close storage client", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func newTranscriber(cfg *config.Config) (transcriber.Transcriber, error) {
	switch cfg.TranscriberProvider {
	case config.ProviderOpenAI:
		return transcriber.NewOpenAI(cfg.OpenAIAPIKey, cfg.WhisperModel, cfg.OpenAIBaseURL, cfg.RemoteTimeout), nil
	case config.ProviderCloudflare:
		return transcriber.NewCloudflare(cfg.CloudflareAccountID, cfg.CloudflareAPIToken, cfg.CloudflareWhisperModel, cfg.RemoteTimeout), nil
	default:
		return nil, fmt.Errorf("unknown transcriber provider %q", cfg.TranscriberProvider)
	}
}

func newSummarizer(ctx context.Context, cfg *config.Config) (summarizer.Summarizer, func(), error) {
	switch cfg.SummarizerProvider {
	case config.ProviderOpenAI:
		return summarizer.NewOpenAI(cfg.OpenAIAPIKey, cfg.GPTModel, cfg.OpenAIBaseURL, cfg.RemoteTimeout), func() {}, nil
	case config.ProviderVertex:
		v, err := summarizer.NewVertex(ctx, cfg.VertexProjectID, cfg.VertexRegion, cfg.VertexModel)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		return v, func() {
			if err := v.Close(); err != nil {
				slog.Warn("close vertex client", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown summarizer provider %q", cfg.SummarizerProvider)
	}
}

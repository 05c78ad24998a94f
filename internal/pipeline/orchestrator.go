// Package pipeline runs uploaded audio through transcription and
// summarization and records every stage transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/db"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/summarizer"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/transcriber"
)

// ErrAudioNotFound is returned when the audio file to process does not exist.
var ErrAudioNotFound = errors.New("audio file not found")

// maxErrorLen is the width of the error_message columns.
const maxErrorLen = 1000

// Records is the part of the record store the pipeline writes to.
type Records interface {
	GetAudioFile(ctx context.Context, id uuid.UUID) (*db.AudioFile, error)
	GetTranscriptionByAudio(ctx context.Context, audioID uuid.UUID) (*db.Transcription, error)
	StartTranscription(ctx context.Context, audioID uuid.UUID) (*db.Transcription, error)
	ResumeSummarization(ctx context.Context, audioID, transcriptionID uuid.UUID) error
	CompleteTranscription(ctx context.Context, res db.TranscriptionResult) error
	FailTranscription(ctx context.Context, transcriptionID, audioID uuid.UUID, stageErr, audioErr string) error
	StartSummary(ctx context.Context, transcriptionID uuid.UUID, model string) (*db.Summary, error)
	CompleteSummary(ctx context.Context, res db.SummaryResult) error
	FailSummary(ctx context.Context, summaryID, audioID uuid.UUID, stageErr, audioErr string) error
	FailAudioFile(ctx context.Context, audioID uuid.UUID, audioErr string) error
}

// AudioSource opens stored audio by path.
type AudioSource interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

type Orchestrator struct {
	records     Records
	audio       AudioSource
	transcriber transcriber.Transcriber
	summarizer  summarizer.Summarizer
}

func NewOrchestrator(records Records, audio AudioSource, t transcriber.Transcriber, s summarizer.Summarizer) *Orchestrator {
	return &Orchestrator{records: records, audio: audio, transcriber: t, summarizer: s}
}

// Process runs the pipeline for one audio file. Once the audio file is
// processing, any failure is recorded on the stage and the audio file and
// returned. A missing audio file is skipped with ErrAudioNotFound.
func (o *Orchestrator) Process(ctx context.Context, audioID uuid.UUID) error {
	logCtx := slog.With("audioId", audioID)

	audio, err := o.records.GetAudioFile(ctx, audioID)
	if err != nil {
		return fmt.Errorf("load audio file: %w", err)
	}
	if audio == nil {
		logCtx.Warn("Audio file vanished before processing.")
		return fmt.Errorf("%s: %w", audioID, ErrAudioNotFound)
	}

	if audio.Status == db.AudioFailed {
		tr, err := o.records.GetTranscriptionByAudio(ctx, audioID)
		if err != nil {
			return fmt.Errorf("load transcription: %w", err)
		}
		if tr != nil && tr.Status == db.StageCompleted && tr.FullText != nil {
			if err := o.records.ResumeSummarization(ctx, audioID, tr.ID); err != nil {
				logCtx.Warn("Could not resume processing.", "error", err)
				return err
			}
			logCtx.Info("Resuming at summarization.", "transcriptionId", tr.ID)
			return o.summarize(ctx, logCtx.With("transcriptionId", tr.ID), audioID, tr.ID, *tr.FullText)
		}
	}

	tr, err := o.records.StartTranscription(ctx, audioID)
	if err != nil {
		logCtx.Warn("Could not start processing.", "error", err)
		return err
	}
	logCtx = logCtx.With("transcriptionId", tr.ID)
	logCtx.Info("Starting transcription.")

	text, err := o.transcribe(ctx, logCtx, audio, tr.ID)
	if err != nil {
		return err
	}
	return o.summarize(ctx, logCtx, audioID, tr.ID, text)
}

func (o *Orchestrator) transcribe(ctx context.Context, logCtx *slog.Logger, audio *db.AudioFile, transcriptionID uuid.UUID) (string, error) {
	start := time.Now()
	res, err := o.callTranscriber(ctx, audio)
	if err != nil {
		logCtx.Error("Transcription failed.", "error", err)
		return "", o.failTranscription(ctx, logCtx, transcriptionID, audio.ID, err)
	}

	elapsed := time.Since(start)
	if err := o.records.CompleteTranscription(ctx, db.TranscriptionResult{
		TranscriptionID:  transcriptionID,
		AudioFileID:      audio.ID,
		FullText:         res.Text,
		Language:         res.Language,
		ProcessingTimeMs: int(elapsed.Milliseconds()),
		DurationSeconds:  res.DurationSeconds,
	}); err != nil {
		logCtx.Error("Failed to store transcription.", "error", err)
		return "", o.failTranscription(ctx, logCtx, transcriptionID, audio.ID, fmt.Errorf("store transcription: %w", err))
	}
	logCtx.Info("Transcription complete.", "processingTimeMs", elapsed.Milliseconds(), "language", res.Language)
	return res.Text, nil
}

// callTranscriber reads the stored audio and sends it to the provider. A
// missing or unreadable object is a transcription failure.
func (o *Orchestrator) callTranscriber(ctx context.Context, audio *db.AudioFile) (*transcriber.Result, error) {
	body, err := o.audio.Open(ctx, audio.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer body.Close()

	res, err := o.transcriber.Transcribe(ctx, transcriber.Audio{
		Filename: audio.Filename,
		MIMEType: audio.MimeType,
		Body:     body,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("transcriber returned no result")
	}
	return res, nil
}

func (o *Orchestrator) summarize(ctx context.Context, logCtx *slog.Logger, audioID, transcriptionID uuid.UUID, text string) error {
	sum, err := o.records.StartSummary(ctx, transcriptionID, o.summarizer.Model())
	if err != nil {
		logCtx.Error("Could not start summary.", "error", err)
		if ferr := o.records.FailAudioFile(ctx, audioID, truncate("Summary generation failed: "+err.Error())); ferr != nil {
			logCtx.Error("Failed to record summary failure.", "error", ferr)
			return errors.Join(err, ferr)
		}
		return fmt.Errorf("start summary: %w", err)
	}
	logCtx = logCtx.With("summaryId", sum.ID)
	logCtx.Info("Starting summarization.")

	res, err := o.summarizer.Summarize(ctx, text)
	if err == nil && res == nil {
		err = errors.New("summarizer returned no result")
	}
	if err != nil {
		logCtx.Error("Summary generation failed.", "error", err)
		return o.failSummary(ctx, logCtx, sum.ID, audioID, err)
	}

	content := summarizer.ParseContent(res.Text)
	if content.Degraded {
		logCtx.Warn("Summary output was not structured JSON, storing raw text.")
	}
	model := res.Model
	if model == "" {
		model = o.summarizer.Model()
	}
	if err := o.records.CompleteSummary(ctx, db.SummaryResult{
		SummaryID:    sum.ID,
		AudioFileID:  audioID,
		SummaryText:  content.Summary,
		KeyPoints:    content.KeyPoints,
		ActionItems:  content.ActionItems,
		Decisions:    content.Decisions,
		Participants: content.Participants,
		TokensUsed:   res.TokensUsed,
		ModelUsed:    model,
	}); err != nil {
		logCtx.Error("Failed to store summary.", "error", err)
		return o.failSummary(ctx, logCtx, sum.ID, audioID, fmt.Errorf("store summary: %w", err))
	}
	logCtx.Info("Processing complete.", "tokensUsed", res.TokensUsed)
	return nil
}

func (o *Orchestrator) failTranscription(ctx context.Context, logCtx *slog.Logger, transcriptionID, audioID uuid.UUID, err error) error {
	if ferr := o.records.FailTranscription(ctx, transcriptionID, audioID, truncate(err.Error()), truncate("Transcription failed: "+err.Error())); ferr != nil {
		logCtx.Error("Failed to record transcription failure.", "error", ferr)
		return errors.Join(err, ferr)
	}
	return fmt.Errorf("transcription failed: %w", err)
}

func (o *Orchestrator) failSummary(ctx context.Context, logCtx *slog.Logger, summaryID, audioID uuid.UUID, err error) error {
	if ferr := o.records.FailSummary(ctx, summaryID, audioID, truncate(err.Error()), truncate("Summary generation failed: "+err.Error())); ferr != nil {
		logCtx.Error("Failed to record summary failure.", "error", ferr)
		return errors.Join(err, ferr)
	}
	return fmt.Errorf("summary generation failed: %w", err)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxErrorLen {
		return s
	}
	return string(r[:maxErrorLen])
}

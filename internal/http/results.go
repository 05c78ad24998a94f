package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	dbrepo "github.com/3aiwarrior/Meeting-notes-summarizer/internal/db"

	"github.com/google/uuid"
)

type transcriptionResponse struct {
	ID               uuid.UUID `json:"id"`
	AudioFileID      uuid.UUID `json:"audio_file_id"`
	FullText         *string   `json:"full_text"`
	Language         *string   `json:"language"`
	Status           string    `json:"status"`
	ProcessingTimeMs *int      `json:"processing_time_ms"`
	ErrorMessage     *string   `json:"error_message"`
	CreatedAt        time.Time `json:"created_at"`
}

func (h *Handler) GetTranscription(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("transcription_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Transcription %s not found", raw))
		return
	}

	t, err := h.Repo.GetTranscription(r.Context(), id)
	if err != nil {
		slog.Error("get transcription error", "transcriptionId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Transcription %s not found", id))
		return
	}

	writeJSON(w, http.StatusOK, transcriptionResponse{
		ID:               t.ID,
		AudioFileID:      t.AudioFileID,
		FullText:         t.FullText,
		Language:         t.Language,
		Status:           string(t.Status),
		ProcessingTimeMs: t.ProcessingTimeMs,
		ErrorMessage:     t.ErrorMessage,
		CreatedAt:        t.CreatedAt,
	})
}

type summaryResponse struct {
	ID              uuid.UUID           `json:"id"`
	TranscriptionID uuid.UUID           `json:"transcription_id"`
	SummaryText     *string             `json:"summary_text"`
	KeyPoints       []string            `json:"key_points"`
	ActionItems     []dbrepo.ActionItem `json:"action_items"`
	Decisions       []string            `json:"decisions"`
	Participants    []string            `json:"participants"`
	TokensUsed      *int                `json:"tokens_used"`
	ModelUsed       *string             `json:"model_used"`
	Status          string              `json:"status"`
	ErrorMessage    *string             `json:"error_message"`
	CreatedAt       time.Time           `json:"created_at"`
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("summary_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Summary %s not found", raw))
		return
	}

	s, err := h.Repo.GetSummary(r.Context(), id)
	if err != nil {
		slog.Error("get summary error", "summaryId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Summary %s not found", id))
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		ID:              s.ID,
		TranscriptionID: s.TranscriptionID,
		SummaryText:     s.SummaryText,
		KeyPoints:       orEmpty(s.KeyPoints),
		ActionItems:     orEmpty(s.ActionItems),
		Decisions:       orEmpty(s.Decisions),
		Participants:    orEmpty(s.Participants),
		TokensUsed:      s.TokensUsed,
		ModelUsed:       s.ModelUsed,
		Status:          string(s.Status),
		ErrorMessage:    s.ErrorMessage,
		CreatedAt:       s.CreatedAt,
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Repo.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("Database connection failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: h.Version, Database: "healthy"})
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    h.AppName,
		"version": h.Version,
	})
}

// orEmpty keeps list fields as [] rather than null in responses.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dbrepo "github.com/3aiwarrior/Meeting-notes-summarizer/internal/db"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/pipeline"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/storage"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/upload"

	"github.com/google/uuid"
)

// multipartSlack covers form boundaries and headers around the file part.
const multipartSlack = 1 << 20

// Enqueuer schedules a pipeline run for an audio file.
type Enqueuer interface {
	Enqueue(audioID uuid.UUID) error
}

type Handler struct {
	Repo      *dbrepo.Repository
	Store     storage.Store
	Validator *upload.Validator
	Queue     Enqueuer
	AppName   string
	Version   string
}

func NewHandler(repo *dbrepo.Repository, store storage.Store, validator *upload.Validator, queue Enqueuer, appName, version string) *Handler {
	return &Handler{
		Repo:      repo,
		Store:     store,
		Validator: validator,
		Queue:     queue,
		AppName:   appName,
		Version:   version,
	}
}

type uploadResponse struct {
	ID        uuid.UUID `json:"id"`
	Filename  string    `json:"filename"`
	FileSize  int64     `json:"file_size"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) UploadAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.Validator.MaxBytes()+multipartSlack)

	candidate, err := readCandidate(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, h.Validator.TooLarge().Error())
			return
		}
		slog.Warn("parse form error", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, err := h.Validator.Validate(candidate)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, upload.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}

	ctx := r.Context()
	path, name, err := h.Store.Save(ctx, file.Content, file.Filename)
	if err != nil {
		slog.Error("save audio error", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save file")
		return
	}

	record := &dbrepo.AudioFile{
		Filename: file.Filename,
		FilePath: path,
		FileSize: int64(len(file.Content)),
		MimeType: file.MimeType,
	}
	if err := h.Repo.CreateAudioFile(ctx, record); err != nil {
		slog.Error("insert audio_files error", "error", err)
		// the object is unreachable without its record
		if derr := h.Store.Delete(context.WithoutCancel(ctx), path); derr != nil {
			slog.Warn("failed to remove orphaned audio", "path", path, "error", derr)
		}
		writeError(w, http.StatusInternalServerError, "Failed to save file")
		return
	}

	slog.Info("uploaded audio", "audioId", record.ID, "filename", record.Filename, "bytes", record.FileSize, "stored", name)
	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:        record.ID,
		Filename:  record.Filename,
		FileSize:  record.FileSize,
		Status:    string(record.Status),
		CreatedAt: record.CreatedAt,
	})
}

// readCandidate returns nil without error when the form has no file part. A
// "file" part sent without a filename comes back with an empty Filename.
func readCandidate(r *http.Request) (*upload.Candidate, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			if v, ok := r.MultipartForm.Value["file"]; ok && len(v) > 0 {
				return &upload.Candidate{Content: []byte(v[0])}, nil
			}
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &upload.Candidate{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

type audioStatusResponse struct {
	ID              uuid.UUID  `json:"id"`
	Filename        string     `json:"filename"`
	Status          string     `json:"status"`
	DurationSeconds *float64   `json:"duration_seconds"`
	ErrorMessage    *string    `json:"error_message"`
	TranscriptionID *uuid.UUID `json:"transcription_id"`
	SummaryID       *uuid.UUID `json:"summary_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func newAudioStatusResponse(v *dbrepo.AudioStatusView) audioStatusResponse {
	return audioStatusResponse{
		ID:              v.ID,
		Filename:        v.Filename,
		Status:          string(v.Status),
		DurationSeconds: v.DurationSeconds,
		ErrorMessage:    v.ErrorMessage,
		TranscriptionID: v.TranscriptionID,
		SummaryID:       v.SummaryID,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
}

func (h *Handler) GetAudio(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("audio_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Audio file %s not found", raw))
		return
	}

	view, err := h.Repo.GetAudioStatus(r.Context(), id)
	if err != nil {
		slog.Error("get audio error", "audioId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if view == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Audio file %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, newAudioStatusResponse(view))
}

func (h *Handler) ListAudio(w http.ResponseWriter, r *http.Request) {
	items, err := h.Repo.ListAudioFiles(r.Context())
	if err != nil {
		slog.Error("list audio error", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]audioStatusResponse, 0, len(items))
	for i := range items {
		resp = append(resp, newAudioStatusResponse(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeleteAudio(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("audio_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Audio file %s not found", raw))
		return
	}

	ctx := r.Context()
	storedPath, err := h.Repo.DeleteAudioFile(ctx, id)
	if err != nil {
		slog.Error("delete audio error", "audioId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if storedPath == "" {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Audio file %s not found", id))
		return
	}

	// best-effort remove file
	if err := h.Store.Delete(ctx, storedPath); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("failed to remove audio", "path", storedPath, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

type processResponse struct {
	Message string    `json:"message"`
	AudioID uuid.UUID `json:"audio_id"`
	Status  string    `json:"status"`
}

func (h *Handler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("audio_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Audio file %s not found", raw))
		return
	}

	audio, err := h.Repo.GetAudioFile(r.Context(), id)
	if err != nil {
		slog.Error("get audio for processing error", "audioId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if audio == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Audio file %s not found", id))
		return
	}

	switch audio.Status {
	case dbrepo.AudioProcessing, dbrepo.AudioCompleted:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Audio file is already %s", audio.Status))
		return
	case dbrepo.AudioUploaded, dbrepo.AudioFailed:
	default:
		slog.Error("unexpected audio status", "audioId", id, "status", audio.Status)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := h.Queue.Enqueue(id); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyQueued) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Audio file is already %s", dbrepo.AudioProcessing))
			return
		}
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrQueueClosed) {
			slog.Warn("processing rejected", "audioId", id, "error", err)
			writeError(w, http.StatusServiceUnavailable, "Processing queue is unavailable, try again later")
			return
		}
		slog.Error("enqueue error", "audioId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, processResponse{
		Message: "Processing started",
		AudioID: id,
		Status:  string(dbrepo.AudioProcessing),
	})
}

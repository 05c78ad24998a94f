package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a status update would move a record
// backwards or out of a state it is no longer in.
var ErrInvalidTransition = errors.New("invalid status transition")

type Repository struct {
	DB      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{
		DB:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks store connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

// rebind turns ? placeholders into $n for Postgres.
func (r *Repository) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repository) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) CreateAudioFile(ctx context.Context, f *AudioFile) error {
	now := r.now()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Status == "" {
		f.Status = AudioUploaded
	}
	f.CreatedAt, f.UpdatedAt = now, now

	_, err := r.DB.ExecContext(ctx, r.rebind(`
		insert into audio_files (id, filename, file_path, file_size, mime_type, duration_seconds, status, error_message, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), f.ID, f.Filename, f.FilePath, f.FileSize, f.MimeType, f.DurationSeconds, f.Status, f.ErrorMessage, f.CreatedAt, f.UpdatedAt)
	return err
}

const audioColumns = `a.id, a.filename, a.file_path, a.file_size, a.mime_type, a.duration_seconds, a.status, a.error_message, a.created_at, a.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAudio(row scanner, extra ...any) (*AudioFile, error) {
	var (
		f        AudioFile
		duration sql.NullFloat64
		errorMsg sql.NullString
	)
	dest := []any{&f.ID, &f.Filename, &f.FilePath, &f.FileSize, &f.MimeType, &duration, &f.Status, &errorMsg, &f.CreatedAt, &f.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if duration.Valid {
		v := duration.Float64
		f.DurationSeconds = &v
	}
	f.ErrorMessage = stringPtr(errorMsg)
	return &f, nil
}

// GetAudioFile returns nil, nil when no row matches.
func (r *Repository) GetAudioFile(ctx context.Context, id uuid.UUID) (*AudioFile, error) {
	row := r.DB.QueryRowContext(ctx, r.rebind(`select `+audioColumns+` from audio_files a where a.id = ?`), id)
	f, err := scanAudio(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan audio file: %w", err)
	}
	return f, nil
}

const statusViewQuery = `
	select ` + audioColumns + `, t.id, s.id
	from audio_files a
	left join transcriptions t on t.audio_file_id = a.id
	left join summaries s on s.transcription_id = t.id
`

func scanStatusView(row scanner) (*AudioStatusView, error) {
	var tID, sID uuid.NullUUID
	f, err := scanAudio(row, &tID, &sID)
	if err != nil {
		return nil, err
	}
	v := &AudioStatusView{AudioFile: *f}
	if tID.Valid {
		id := tID.UUID
		v.TranscriptionID = &id
	}
	if sID.Valid {
		id := sID.UUID
		v.SummaryID = &id
	}
	return v, nil
}

// GetAudioStatus returns the audio record with its child ids, or nil, nil.
func (r *Repository) GetAudioStatus(ctx context.Context, id uuid.UUID) (*AudioStatusView, error) {
	row := r.DB.QueryRowContext(ctx, r.rebind(statusViewQuery+` where a.id = ?`), id)
	v, err := scanStatusView(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan audio status: %w", err)
	}
	return v, nil
}

// ListAudioFiles returns every audio record, newest first.
func (r *Repository) ListAudioFiles(ctx context.Context) ([]AudioStatusView, error) {
	rows, err := r.DB.QueryContext(ctx, r.rebind(statusViewQuery+` order by a.created_at desc`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AudioStatusView
	for rows.Next() {
		v, err := scanStatusView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audio status: %w", err)
		}
		result = append(result, *v)
	}
	return result, rows.Err()
}

// DeleteAudioFile deletes an audio file (and its transcription and summary via
// cascade) and returns the file_path. An empty path means nothing matched.
func (r *Repository) DeleteAudioFile(ctx context.Context, id uuid.UUID) (string, error) {
	var filePath string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, r.rebind(`select file_path from audio_files where id = ?`), id).Scan(&filePath)
		if err != nil {
			return err
		}
		_, err = r.exec(ctx, tx, `delete from audio_files where id = ?`, id)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return filePath, nil
}

// markProcessing moves an audio file into processing if it is allowed to start.
func (r *Repository) markProcessing(ctx context.Context, tx *sql.Tx, audioID uuid.UUID) error {
	n, err := r.exec(ctx, tx, `
		update audio_files
		set status = ?, error_message = null, updated_at = ?
		where id = ? and status in (?, ?)
	`, AudioProcessing, r.now(), audioID, AudioUploaded, AudioFailed)
	if err != nil {
		return fmt.Errorf("update audio_files: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("audio file %s cannot start processing: %w", audioID, ErrInvalidTransition)
	}
	return nil
}

// StartTranscription creates an in_progress transcription and marks the audio
// file processing in one transaction. Leftovers of an earlier failed run for
// the same audio file are removed first.
func (r *Repository) StartTranscription(ctx context.Context, audioID uuid.UUID) (*Transcription, error) {
	now := r.now()
	t := &Transcription{
		ID:          uuid.New(),
		AudioFileID: audioID,
		Status:      StageInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.markProcessing(ctx, tx, audioID); err != nil {
			return err
		}
		if _, err := r.exec(ctx, tx, `
			delete from summaries
			where transcription_id in (select id from transcriptions where audio_file_id = ?)
		`, audioID); err != nil {
			return fmt.Errorf("delete stale summaries: %w", err)
		}
		if _, err := r.exec(ctx, tx, `delete from transcriptions where audio_file_id = ?`, audioID); err != nil {
			return fmt.Errorf("delete stale transcriptions: %w", err)
		}
		if _, err := r.exec(ctx, tx, `
			insert into transcriptions (id, audio_file_id, status, created_at, updated_at)
			values (?, ?, ?, ?, ?)
		`, t.ID, t.AudioFileID, t.Status, t.CreatedAt, t.UpdatedAt); err != nil {
			return fmt.Errorf("insert transcriptions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ResumeSummarization marks the audio file processing again and drops the
// failed summary of an already completed transcription.
func (r *Repository) ResumeSummarization(ctx context.Context, audioID, transcriptionID uuid.UUID) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.markProcessing(ctx, tx, audioID); err != nil {
			return err
		}
		if _, err := r.exec(ctx, tx, `delete from summaries where transcription_id = ?`, transcriptionID); err != nil {
			return fmt.Errorf("delete stale summaries: %w", err)
		}
		return nil
	})
}

func (r *Repository) CompleteTranscription(ctx context.Context, res TranscriptionResult) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		n, err := r.exec(ctx, tx, `
			update transcriptions
			set full_text = ?, language = ?, processing_time_ms = ?, status = ?, error_message = null, updated_at = ?
			where id = ? and status = ?
		`, res.FullText, nullIfEmpty(res.Language), res.ProcessingTimeMs, StageCompleted, now, res.TranscriptionID, StageInProgress)
		if err != nil {
			return fmt.Errorf("update transcriptions: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("transcription %s is not in progress: %w", res.TranscriptionID, ErrInvalidTransition)
		}
		if res.DurationSeconds != nil {
			if _, err := r.exec(ctx, tx, `
				update audio_files set duration_seconds = ?, updated_at = ? where id = ?
			`, *res.DurationSeconds, now, res.AudioFileID); err != nil {
				return fmt.Errorf("update audio_files: %w", err)
			}
		}
		return nil
	})
}

// FailTranscription marks the transcription and its audio file failed.
func (r *Repository) FailTranscription(ctx context.Context, transcriptionID, audioID uuid.UUID, stageErr, audioErr string) error {
	return r.failStage(ctx, "transcriptions", transcriptionID, audioID, stageErr, audioErr)
}

// StartSummary creates an in_progress summary for a completed transcription.
func (r *Repository) StartSummary(ctx context.Context, transcriptionID uuid.UUID, model string) (*Summary, error) {
	now := r.now()
	s := &Summary{
		ID:              uuid.New(),
		TranscriptionID: transcriptionID,
		Status:          StageInProgress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if model != "" {
		s.ModelUsed = &model
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var status StageStatus
		err := tx.QueryRowContext(ctx, r.rebind(`select status from transcriptions where id = ?`), transcriptionID).Scan(&status)
		if err != nil {
			return fmt.Errorf("load transcription: %w", err)
		}
		if status != StageCompleted {
			return fmt.Errorf("transcription %s is %s: %w", transcriptionID, status, ErrInvalidTransition)
		}
		if _, err := r.exec(ctx, tx, `
			insert into summaries (id, transcription_id, model_used, status, created_at, updated_at)
			values (?, ?, ?, ?, ?, ?)
		`, s.ID, s.TranscriptionID, s.ModelUsed, s.Status, s.CreatedAt, s.UpdatedAt); err != nil {
			return fmt.Errorf("insert summaries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CompleteSummary stores the parsed summary and completes the audio file.
func (r *Repository) CompleteSummary(ctx context.Context, res SummaryResult) error {
	keyPoints, err := encodeList(res.KeyPoints)
	if err != nil {
		return err
	}
	actionItems, err := encodeList(res.ActionItems)
	if err != nil {
		return err
	}
	decisions, err := encodeList(res.Decisions)
	if err != nil {
		return err
	}
	participants, err := encodeList(res.Participants)
	if err != nil {
		return err
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		n, err := r.exec(ctx, tx, `
			update summaries
			set summary_text = ?, key_points = ?, action_items = ?, decisions = ?, participants = ?,
			    tokens_used = ?, model_used = ?, status = ?, error_message = null, updated_at = ?
			where id = ? and status = ?
		`, res.SummaryText, keyPoints, actionItems, decisions, participants,
			res.TokensUsed, nullIfEmpty(res.ModelUsed), StageCompleted, now, res.SummaryID, StageInProgress)
		if err != nil {
			return fmt.Errorf("update summaries: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("summary %s is not in progress: %w", res.SummaryID, ErrInvalidTransition)
		}
		n, err = r.exec(ctx, tx, `
			update audio_files set status = ?, error_message = null, updated_at = ? where id = ? and status = ?
		`, AudioCompleted, now, res.AudioFileID, AudioProcessing)
		if err != nil {
			return fmt.Errorf("update audio_files: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("audio file %s is not processing: %w", res.AudioFileID, ErrInvalidTransition)
		}
		return nil
	})
}

// FailSummary marks the summary and its audio file failed.
func (r *Repository) FailSummary(ctx context.Context, summaryID, audioID uuid.UUID, stageErr, audioErr string) error {
	return r.failStage(ctx, "summaries", summaryID, audioID, stageErr, audioErr)
}

// FailAudioFile marks a processing audio file failed without touching its stages.
func (r *Repository) FailAudioFile(ctx context.Context, audioID uuid.UUID, audioErr string) error {
	res, err := r.DB.ExecContext(ctx, r.rebind(`
		update audio_files set status = ?, error_message = ?, updated_at = ? where id = ? and status = ?
	`), AudioFailed, audioErr, r.now(), audioID, AudioProcessing)
	if err != nil {
		return fmt.Errorf("update audio_files: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update audio_files: %w", err)
	} else if n == 0 {
		return fmt.Errorf("audio file %s is not processing: %w", audioID, ErrInvalidTransition)
	}
	return nil
}

func (r *Repository) failStage(ctx context.Context, table string, stageID, audioID uuid.UUID, stageErr, audioErr string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		n, err := r.exec(ctx, tx, `
			update `+table+` set status = ?, error_message = ?, updated_at = ? where id = ? and status = ?
		`, StageFailed, stageErr, now, stageID, StageInProgress)
		if err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("%s %s is not in progress: %w", table, stageID, ErrInvalidTransition)
		}
		if _, err := r.exec(ctx, tx, `
			update audio_files set status = ?, error_message = ?, updated_at = ? where id = ? and status = ?
		`, AudioFailed, audioErr, now, audioID, AudioProcessing); err != nil {
			return fmt.Errorf("update audio_files: %w", err)
		}
		return nil
	})
}

const transcriptionColumns = `id, audio_file_id, full_text, language, processing_time_ms, status, error_message, created_at, updated_at`

func scanTranscription(row scanner) (*Transcription, error) {
	var (
		t          Transcription
		fullText   sql.NullString
		language   sql.NullString
		processing sql.NullInt64
		errorMsg   sql.NullString
	)
	if err := row.Scan(&t.ID, &t.AudioFileID, &fullText, &language, &processing, &t.Status, &errorMsg, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.FullText = stringPtr(fullText)
	t.Language = stringPtr(language)
	t.ErrorMessage = stringPtr(errorMsg)
	if processing.Valid {
		v := int(processing.Int64)
		t.ProcessingTimeMs = &v
	}
	return &t, nil
}

func (r *Repository) getTranscription(ctx context.Context, where string, arg any) (*Transcription, error) {
	row := r.DB.QueryRowContext(ctx, r.rebind(`select `+transcriptionColumns+` from transcriptions where `+where+` = ?`), arg)
	t, err := scanTranscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transcription: %w", err)
	}
	return t, nil
}

func (r *Repository) GetTranscription(ctx context.Context, id uuid.UUID) (*Transcription, error) {
	return r.getTranscription(ctx, "id", id)
}

func (r *Repository) GetTranscriptionByAudio(ctx context.Context, audioID uuid.UUID) (*Transcription, error) {
	return r.getTranscription(ctx, "audio_file_id", audioID)
}

const summaryColumns = `id, transcription_id, summary_text, key_points, action_items, decisions, participants, tokens_used, model_used, status, error_message, created_at, updated_at`

func scanSummary(row scanner) (*Summary, error) {
	var (
		s                                            Summary
		text, model, errorMsg                        sql.NullString
		keyPoints, actionItems, decisions, attendees sql.NullString
		tokens                                       sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.TranscriptionID, &text, &keyPoints, &actionItems, &decisions, &attendees,
		&tokens, &model, &s.Status, &errorMsg, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.SummaryText = stringPtr(text)
	s.ModelUsed = stringPtr(model)
	s.ErrorMessage = stringPtr(errorMsg)
	if tokens.Valid {
		v := int(tokens.Int64)
		s.TokensUsed = &v
	}
	if err := decodeList(keyPoints, &s.KeyPoints); err != nil {
		return nil, fmt.Errorf("decode key_points: %w", err)
	}
	if err := decodeList(actionItems, &s.ActionItems); err != nil {
		return nil, fmt.Errorf("decode action_items: %w", err)
	}
	if err := decodeList(decisions, &s.Decisions); err != nil {
		return nil, fmt.Errorf("decode decisions: %w", err)
	}
	if err := decodeList(attendees, &s.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	return &s, nil
}

func (r *Repository) getSummary(ctx context.Context, where string, arg any) (*Summary, error) {
	row := r.DB.QueryRowContext(ctx, r.rebind(`select `+summaryColumns+` from summaries where `+where+` = ?`), arg)
	s, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan summary: %w", err)
	}
	return s, nil
}

func (r *Repository) GetSummary(ctx context.Context, id uuid.UUID) (*Summary, error) {
	return r.getSummary(ctx, "id", id)
}

func (r *Repository) GetSummaryByTranscription(ctx context.Context, transcriptionID uuid.UUID) (*Summary, error) {
	return r.getSummary(ctx, "transcription_id", transcriptionID)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// encodeList stores nil slices as [] so readers never see null lists.
func encodeList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList[T any](ns sql.NullString, dst *[]T) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

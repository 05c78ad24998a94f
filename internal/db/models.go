package db

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AudioStatus is the lifecycle of an uploaded file.
type AudioStatus string

const (
	AudioUploaded   AudioStatus = "uploaded"
	AudioProcessing AudioStatus = "processing"
	AudioCompleted  AudioStatus = "completed"
	AudioFailed     AudioStatus = "failed"
)

// Valid reports whether s is one of the declared audio statuses.
func (s AudioStatus) Valid() bool {
	switch s {
	case AudioUploaded, AudioProcessing, AudioCompleted, AudioFailed:
		return true
	default:
		return false
	}
}

// Scan rejects values outside the enumeration.
func (s *AudioStatus) Scan(src any) error {
	v, err := scanStatus(src)
	if err != nil {
		return err
	}
	if !AudioStatus(v).Valid() {
		return fmt.Errorf("invalid audio status %q", v)
	}
	*s = AudioStatus(v)
	return nil
}

func (s AudioStatus) Value() (driver.Value, error) { return string(s), nil }

// StageStatus is shared by the transcription and summary stages.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// Valid reports whether s is one of the declared stage statuses.
func (s StageStatus) Valid() bool {
	switch s {
	case StagePending, StageInProgress, StageCompleted, StageFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can happen from s.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed:
		return true
	case StagePending, StageInProgress:
		return false
	default:
		return false
	}
}

// Scan rejects values outside the enumeration.
func (s *StageStatus) Scan(src any) error {
	v, err := scanStatus(src)
	if err != nil {
		return err
	}
	if !StageStatus(v).Valid() {
		return fmt.Errorf("invalid stage status %q", v)
	}
	*s = StageStatus(v)
	return nil
}

func (s StageStatus) Value() (driver.Value, error) { return string(s), nil }

func scanStatus(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("status is null")
	default:
		return "", fmt.Errorf("unsupported status type %T", src)
	}
}

type AudioFile struct {
	ID              uuid.UUID
	Filename        string
	FilePath        string
	FileSize        int64
	MimeType        string
	DurationSeconds *float64
	Status          AudioStatus
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Transcription struct {
	ID               uuid.UUID
	AudioFileID      uuid.UUID
	FullText         *string
	Language         *string
	ProcessingTimeMs *int
	Status           StageStatus
	ErrorMessage     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ActionItem is one task extracted from a meeting.
type ActionItem struct {
	Task  string `json:"task"`
	Owner string `json:"owner"`
}

type Summary struct {
	ID              uuid.UUID
	TranscriptionID uuid.UUID
	SummaryText     *string
	KeyPoints       []string
	ActionItems     []ActionItem
	Decisions       []string
	Participants    []string
	TokensUsed      *int
	ModelUsed       *string
	Status          StageStatus
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AudioStatusView is the audio record plus the ids of its children, if any.
type AudioStatusView struct {
	AudioFile
	TranscriptionID *uuid.UUID
	SummaryID       *uuid.UUID
}

// TranscriptionResult carries the outcome of a successful transcription call.
type TranscriptionResult struct {
	TranscriptionID  uuid.UUID
	AudioFileID      uuid.UUID
	FullText         string
	Language         string
	ProcessingTimeMs int
	DurationSeconds  *float64
}

// SummaryResult carries the parsed outcome of a successful summarization call.
type SummaryResult struct {
	SummaryID    uuid.UUID
	AudioFileID  uuid.UUID
	SummaryText  string
	KeyPoints    []string
	ActionItems  []ActionItem
	Decisions    []string
	Participants []string
	TokensUsed   int
	ModelUsed    string
}

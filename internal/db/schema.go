package db

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`create table if not exists audio_files (
		id uuid primary key,
		filename varchar(255) not null,
		file_path varchar(500) not null unique,
		file_size bigint not null,
		mime_type varchar(100) not null,
		duration_seconds double precision,
		status varchar(20) not null default 'uploaded',
		error_message varchar(1000),
		created_at timestamptz not null,
		updated_at timestamptz not null
	)`,
	`create index if not exists idx_audio_files_status on audio_files (status)`,
	`create table if not exists transcriptions (
		id uuid primary key,
		audio_file_id uuid not null unique references audio_files(id) on delete cascade,
		full_text text,
		language varchar(10),
		processing_time_ms integer,
		status varchar(20) not null default 'pending',
		error_message varchar(1000),
		created_at timestamptz not null,
		updated_at timestamptz not null
	)`,
	`create table if not exists summaries (
		id uuid primary key,
		transcription_id uuid not null unique references transcriptions(id) on delete cascade,
		summary_text text,
		key_points jsonb,
		action_items jsonb,
		decisions jsonb,
		participants jsonb,
		tokens_used integer,
		model_used varchar(100),
		status varchar(20) not null default 'pending',
		error_message varchar(1000),
		created_at timestamptz not null,
		updated_at timestamptz not null
	)`,
}

var sqliteSchema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS audio_files (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		file_path TEXT NOT NULL UNIQUE,
		file_size INTEGER NOT NULL,
		mime_type TEXT NOT NULL,
		duration_seconds REAL,
		status TEXT NOT NULL DEFAULT 'uploaded',
		error_message TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audio_files_status ON audio_files (status)`,
	`CREATE TABLE IF NOT EXISTS transcriptions (
		id TEXT PRIMARY KEY,
		audio_file_id TEXT NOT NULL UNIQUE REFERENCES audio_files(id) ON DELETE CASCADE,
		full_text TEXT,
		language TEXT,
		processing_time_ms INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS summaries (
		id TEXT PRIMARY KEY,
		transcription_id TEXT NOT NULL UNIQUE REFERENCES transcriptions(id) ON DELETE CASCADE,
		summary_text TEXT,
		key_points TEXT,
		action_items TEXT,
		decisions TEXT,
		participants TEXT,
		tokens_used INTEGER,
		model_used TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts := postgresSchema
	if dialect == SQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

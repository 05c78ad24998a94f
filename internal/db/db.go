package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder and DDL flavour.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// Config holds what is needed to open the relational store.
type Config struct {
	Driver string // "postgres" or "sqlite"
	DSN    string

	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// Open opens the store, applies pool tuning and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*sql.DB, Dialect, error) {
	if cfg.DSN == "" {
		return nil, 0, fmt.Errorf("database DSN is required")
	}

	var (
		driverName string
		dialect    Dialect
	)
	switch cfg.Driver {
	case "postgres", "":
		driverName, dialect = "pgx", Postgres
	case "sqlite":
		driverName, dialect = "sqlite", SQLite
	default:
		return nil, 0, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	dsn := cfg.DSN
	if dialect == SQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("open database: %w", err)
	}

	if dialect == SQLite {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLife > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLife)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, 0, fmt.Errorf("ping database: %w", err)
	}
	return db, dialect, nil
}

// sqliteDSN turns on foreign keys for every connection the pool opens.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

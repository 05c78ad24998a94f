package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/config"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/db"
	httpapi "github.com/3aiwarrior/Meeting-notes-summarizer/internal/http"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/pipeline"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/upload"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, dialect, err := db.Open(ctx, db.Config{
		Driver:       cfg.DatabaseDriver,
		DSN:          cfg.DatabaseURL,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
		ConnMaxLife:  cfg.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := db.Migrate(ctx, dbConn, dialect); err != nil {
		return err
	}
	repo := db.NewRepository(dbConn, dialect)

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	tr, err := newTranscriber(cfg)
	if err != nil {
		return err
	}
	sum, closeSummarizer, err := newSummarizer(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSummarizer()

	orch := pipeline.NewOrchestrator(repo, store, tr, sum)
	queue := pipeline.NewQueue(cfg.QueueSize, orch.Process)

	validator := upload.NewValidator(cfg.AllowedFormats, cfg.MaxUploadMB)
	handler := httpapi.NewHandler(repo, store, validator, queue, cfg.AppName, cfg.Version)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(handler, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("API listening", "addr", cfg.Addr, "environment", cfg.Environment, "maxUploadBytes", cfg.MaxUploadBytes(),
			"transcriber", cfg.TranscriberProvider, "summarizer", cfg.SummarizerProvider, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

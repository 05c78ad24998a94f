package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrQueueFull     = errors.New("pipeline queue is full")
	ErrQueueClosed   = errors.New("pipeline queue is closed")
	ErrAlreadyQueued = errors.New("audio file is already queued")
)

// ProcessFunc runs the pipeline for one audio file.
type ProcessFunc func(ctx context.Context, audioID uuid.UUID) error

// Queue feeds a single worker that runs one pipeline at a time. An audio file
// is held at most once between Enqueue and the end of its run.
type Queue struct {
	jobs    chan uuid.UUID
	process ProcessFunc

	mu      sync.Mutex
	closed  bool
	pending map[uuid.UUID]struct{}
	wg      sync.WaitGroup
}

func NewQueue(size int, process ProcessFunc) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		jobs:    make(chan uuid.UUID, size),
		process: process,
		pending: make(map[uuid.UUID]struct{}),
	}
}

// Enqueue schedules audioID without blocking.
func (q *Queue) Enqueue(audioID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.pending[audioID]; ok {
		return ErrAlreadyQueued
	}
	q.wg.Add(1)
	select {
	case q.jobs <- audioID:
		q.pending[audioID] = struct{}{}
		return nil
	default:
		q.wg.Done()
		return ErrQueueFull
	}
}

// Run works the queue until ctx is cancelled. The run in flight is finished
// with a context that ignores the cancellation; pending items are dropped.
func (q *Queue) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			q.shutdown()
			return nil
		}
		select {
		case <-ctx.Done():
			q.shutdown()
			return nil
		case id := <-q.jobs:
			q.runOne(ctx, id)
		}
	}
}

func (q *Queue) runOne(ctx context.Context, audioID uuid.UUID) {
	defer q.wg.Done()
	defer q.release(audioID)
	err := q.process(context.WithoutCancel(ctx), audioID)
	switch {
	case err == nil:
	case errors.Is(err, ErrAudioNotFound):
		slog.Debug("Skipped pipeline run for missing audio file.", "audioId", audioID)
	default:
		slog.Error("Pipeline run failed.", "audioId", audioID, "error", err)
	}
}

func (q *Queue) release(audioID uuid.UUID) {
	q.mu.Lock()
	delete(q.pending, audioID)
	q.mu.Unlock()
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	for {
		select {
		case id := <-q.jobs:
			slog.Warn("Dropping queued pipeline run on shutdown.", "audioId", id)
			q.release(id)
			q.wg.Done()
		default:
			return
		}
	}
}

// Wait blocks until every enqueued run has finished or been dropped.
func (q *Queue) Wait() {
	q.wg.Wait()
}

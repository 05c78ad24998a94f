package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/db"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/db/dbtest"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/storage"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/summarizer"
	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/transcriber"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	res   *transcriber.Result
	err   error
	calls int
	got   []byte
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio transcriber.Audio) (*transcriber.Result, error) {
	b, err := io.ReadAll(audio.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.got = b
	return f.res, f.err
}

type fakeSummarizer struct {
	mu    sync.Mutex
	res   *summarizer.Result
	err   error
	calls int
	text  string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript string) (*summarizer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.text = transcript
	return f.res, f.err
}

func (f *fakeSummarizer) Model() string { return "gpt-4o-mini" }

type fixture struct {
	repo  *db.Repository
	store *storage.Local
	tr    *fakeTranscriber
	sum   *fakeSummarizer
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	duration := 42.5
	f := &fixture{
		repo:  dbtest.New(t),
		store: store,
		tr:    &fakeTranscriber{res: &transcriber.Result{Text: "Ana: we ship Friday.", Language: "en", DurationSeconds: &duration}},
		sum: &fakeSummarizer{res: &summarizer.Result{
			Text:       `{"summary":"Ship Friday.","key_points":["Friday release"],"action_items":[{"item":"Tag release","owner":"Ana"}],"decisions":["Ship"],"participants":["Ana"]}`,
			TokensUsed: 210,
			Model:      "gpt-4o-mini",
		}},
	}
	f.orch = NewOrchestrator(f.repo, f.store, f.tr, f.sum)
	return f
}

// flakyRecords fails selected writes after the remote call has succeeded.
type flakyRecords struct {
	*db.Repository
	completeTranscription error
	startSummary          error
	completeSummary       error
}

func (r *flakyRecords) CompleteTranscription(ctx context.Context, res db.TranscriptionResult) error {
	if r.completeTranscription != nil {
		return r.completeTranscription
	}
	return r.Repository.CompleteTranscription(ctx, res)
}

func (r *flakyRecords) StartSummary(ctx context.Context, transcriptionID uuid.UUID, model string) (*db.Summary, error) {
	if r.startSummary != nil {
		return nil, r.startSummary
	}
	return r.Repository.StartSummary(ctx, transcriptionID, model)
}

func (r *flakyRecords) CompleteSummary(ctx context.Context, res db.SummaryResult) error {
	if r.completeSummary != nil {
		return r.completeSummary
	}
	return r.Repository.CompleteSummary(ctx, res)
}

func (f *fixture) upload(t *testing.T) *db.AudioFile {
	t.Helper()
	ctx := context.Background()
	path, _, err := f.store.Save(ctx, []byte("fake-audio"), "standup.mp3")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	a := &db.AudioFile{Filename: "standup.mp3", FilePath: path, FileSize: 10, MimeType: "audio/mpeg"}
	if err := f.repo.CreateAudioFile(ctx, a); err != nil {
		t.Fatalf("create audio: %v", err)
	}
	return a
}

func (f *fixture) status(t *testing.T, id uuid.UUID) *db.AudioStatusView {
	t.Helper()
	v, err := f.repo.GetAudioStatus(context.Background(), id)
	if err != nil || v == nil {
		t.Fatalf("get status: %v %v", v, err)
	}
	return v
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t)
	ctx := context.Background()

	if err := f.orch.Process(ctx, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if string(f.tr.got) != "fake-audio" {
		t.Errorf("transcriber got %q", f.tr.got)
	}
	if f.sum.text != "Ana: we ship Friday." {
		t.Errorf("summarizer got %q", f.sum.text)
	}

	v := f.status(t, a.ID)
	if v.Status != db.AudioCompleted || v.ErrorMessage != nil {
		t.Fatalf("audio = %+v", v)
	}
	if v.DurationSeconds == nil || *v.DurationSeconds != 42.5 {
		t.Errorf("duration = %v", v.DurationSeconds)
	}
	if v.TranscriptionID == nil || v.SummaryID == nil {
		t.Fatalf("child ids missing: %+v", v)
	}

	tr, _ := f.repo.GetTranscription(ctx, *v.TranscriptionID)
	if tr.Status != db.StageCompleted || *tr.FullText != "Ana: we ship Friday." || *tr.Language != "en" || tr.ProcessingTimeMs == nil {
		t.Errorf("transcription = %+v", tr)
	}
	s, _ := f.repo.GetSummary(ctx, *v.SummaryID)
	if s.Status != db.StageCompleted || *s.SummaryText != "Ship Friday." || *s.TokensUsed != 210 || *s.ModelUsed != "gpt-4o-mini" {
		t.Errorf("summary = %+v", s)
	}
	if len(s.ActionItems) != 1 || s.ActionItems[0] != (db.ActionItem{Task: "Tag release", Owner: "Ana"}) {
		t.Errorf("action items = %+v", s.ActionItems)
	}
}

func TestProcessTranscriptionFailure(t *testing.T) {
	f := newFixture(t)
	f.tr.err = errors.New("openai http 500: boom")
	a := f.upload(t)
	ctx := context.Background()

	if err := f.orch.Process(ctx, a.ID); err == nil {
		t.Fatal("expected error")
	}
	if f.sum.calls != 0 {
		t.Errorf("summarizer called %d times", f.sum.calls)
	}
	v := f.status(t, a.ID)
	if v.Status != db.AudioFailed || v.ErrorMessage == nil || *v.ErrorMessage != "Transcription failed: openai http 500: boom" {
		t.Fatalf("audio = %+v", v)
	}
	if v.SummaryID != nil {
		t.Errorf("summary created after failed transcription")
	}
	tr, _ := f.repo.GetTranscription(ctx, *v.TranscriptionID)
	if tr.Status != db.StageFailed || *tr.ErrorMessage != "openai http 500: boom" {
		t.Errorf("transcription = %+v", tr)
	}
}

func TestProcessMissingStoredAudio(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t)
	if err := f.store.Delete(context.Background(), a.FilePath); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := f.orch.Process(context.Background(), a.ID); err == nil {
		t.Fatal("expected error")
	}
	v := f.status(t, a.ID)
	if v.Status != db.AudioFailed || !strings.HasPrefix(*v.ErrorMessage, "Transcription failed: open audio") {
		t.Errorf("audio = %+v", v)
	}
	if f.tr.calls != 0 {
		t.Errorf("transcriber called for missing audio")
	}
}

func TestProcessSummaryFailureKeepsTranscription(t *testing.T) {
	f := newFixture(t)
	f.sum.err = errors.New("openai http 429: rate limited")
	a := f.upload(t)
	ctx := context.Background()

	if err := f.orch.Process(ctx, a.ID); err == nil {
		t.Fatal("expected error")
	}
	v := f.status(t, a.ID)
	if v.Status != db.AudioFailed || *v.ErrorMessage != "Summary generation failed: openai http 429: rate limited" {
		t.Fatalf("audio = %+v", v)
	}
	tr, _ := f.repo.GetTranscription(ctx, *v.TranscriptionID)
	if tr.Status != db.StageCompleted {
		t.Errorf("transcription status = %s, want completed", tr.Status)
	}
	s, _ := f.repo.GetSummary(ctx, *v.SummaryID)
	if s.Status != db.StageFailed || *s.ErrorMessage != "openai http 429: rate limited" {
		t.Errorf("summary = %+v", s)
	}
}

func TestProcessResumesAtSummary(t *testing.T) {
	f := newFixture(t)
	f.sum.err = errors.New("timeout")
	a := f.upload(t)
	ctx := context.Background()
	_ = f.orch.Process(ctx, a.ID)
	first := f.status(t, a.ID)

	f.sum.err = nil
	if err := f.orch.Process(ctx, a.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if f.tr.calls != 1 {
		t.Errorf("transcriber called %d times, want 1", f.tr.calls)
	}
	v := f.status(t, a.ID)
	if v.Status != db.AudioCompleted || v.ErrorMessage != nil {
		t.Fatalf("audio = %+v", v)
	}
	if *v.TranscriptionID != *first.TranscriptionID {
		t.Errorf("transcription replaced on resume")
	}
	if *v.SummaryID == *first.SummaryID {
		t.Errorf("failed summary not replaced")
	}
	if old, _ := f.repo.GetSummary(ctx, *first.SummaryID); old != nil {
		t.Errorf("failed summary still present: %+v", old)
	}
}

func TestProcessRetriesFailedTranscription(t *testing.T) {
	f := newFixture(t)
	f.tr.err = errors.New("bad gateway")
	a := f.upload(t)
	ctx := context.Background()
	_ = f.orch.Process(ctx, a.ID)
	first := f.status(t, a.ID)

	f.tr.err = nil
	if err := f.orch.Process(ctx, a.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	v := f.status(t, a.ID)
	if v.Status != db.AudioCompleted {
		t.Fatalf("audio = %+v", v)
	}
	if *v.TranscriptionID == *first.TranscriptionID {
		t.Errorf("failed transcription kept")
	}
}

func TestProcessMalformedSummaryDegrades(t *testing.T) {
	f := newFixture(t)
	f.sum.res = &summarizer.Result{Text: "Sorry, here are notes: ship Friday.", TokensUsed: 12}
	a := f.upload(t)
	ctx := context.Background()

	if err := f.orch.Process(ctx, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	v := f.status(t, a.ID)
	if v.Status != db.AudioCompleted {
		t.Fatalf("audio = %+v", v)
	}
	s, _ := f.repo.GetSummary(ctx, *v.SummaryID)
	if s.Status != db.StageCompleted || *s.SummaryText != "Sorry, here are notes: ship Friday." {
		t.Errorf("summary = %+v", s)
	}
	if len(s.KeyPoints) != 0 || len(s.ActionItems) != 0 || len(s.Decisions) != 0 || len(s.Participants) != 0 {
		t.Errorf("degraded summary has list data: %+v", s)
	}
	if *s.ModelUsed != "gpt-4o-mini" {
		t.Errorf("model = %v", *s.ModelUsed)
	}
}

func TestProcessRefusesCompletedAudio(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t)
	ctx := context.Background()
	if err := f.orch.Process(ctx, a.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := f.orch.Process(ctx, a.ID); !errors.Is(err, db.ErrInvalidTransition) {
		t.Errorf("second run err = %v, want ErrInvalidTransition", err)
	}
	if f.tr.calls != 1 {
		t.Errorf("transcriber called %d times", f.tr.calls)
	}
}

func TestProcessStoreTranscriptionFailure(t *testing.T) {
	f := newFixture(t)
	records := &flakyRecords{Repository: f.repo, completeTranscription: errors.New("conn reset")}
	orch := NewOrchestrator(records, f.store, f.tr, f.sum)
	a := f.upload(t)
	ctx := context.Background()

	if err := orch.Process(ctx, a.ID); err == nil {
		t.Fatal("expected error")
	}
	if f.sum.calls != 0 {
		t.Errorf("summarizer called %d times", f.sum.calls)
	}
	v := f.status(t, a.ID)
	if v.Status != db.AudioFailed || !strings.HasPrefix(*v.ErrorMessage, "Transcription failed: ") || !strings.Contains(*v.ErrorMessage, "conn reset") {
		t.Fatalf("audio = %+v", v)
	}
	tr, _ := f.repo.GetTranscription(ctx, *v.TranscriptionID)
	if tr.Status != db.StageFailed {
		t.Errorf("transcription status = %s, want failed", tr.Status)
	}

	records.completeTranscription = nil
	if err := orch.Process(ctx, a.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if v := f.status(t, a.ID); v.Status != db.AudioCompleted {
		t.Errorf("audio after reprocess = %+v", v)
	}
}

func TestProcessStartSummaryFailure(t *testing.T) {
	f := newFixture(t)
	records := &flakyRecords{Repository: f.repo, startSummary: errors.New("conn reset")}
	orch := NewOrchestrator(records, f.store, f.tr, f.sum)
	a := f.upload(t)
	ctx := context.Background()

	if err := orch.Process(ctx, a.ID); err == nil {
		t.Fatal("expected error")
	}
	v := f.status(t, a.ID)
	if v.Status != db.AudioFailed || *v.ErrorMessage != "Summary generation failed: conn reset" {
		t.Fatalf("audio = %+v", v)
	}
	if v.SummaryID != nil {
		t.Errorf("summary row created: %v", *v.SummaryID)
	}

	records.startSummary = nil
	if err := orch.Process(ctx, a.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if f.tr.calls != 1 {
		t.Errorf("transcriber called %d times, want 1", f.tr.calls)
	}
}

func TestProcessStoreSummaryFailure(t *testing.T) {
	f := newFixture(t)
	records := &flakyRecords{Repository: f.repo, completeSummary: errors.New("conn reset")}
	orch := NewOrchestrator(records, f.store, f.tr, f.sum)
	a := f.upload(t)
	ctx := context.Background()

	if err := orch.Process(ctx, a.ID); err == nil {
		t.Fatal("expected error")
	}
	v := f.status(t, a.ID)
	if v.Status != db.AudioFailed || !strings.HasPrefix(*v.ErrorMessage, "Summary generation failed: ") {
		t.Fatalf("audio = %+v", v)
	}
	tr, _ := f.repo.GetTranscription(ctx, *v.TranscriptionID)
	if tr.Status != db.StageCompleted {
		t.Errorf("transcription status = %s, want completed", tr.Status)
	}
	s, _ := f.repo.GetSummary(ctx, *v.SummaryID)
	if s.Status != db.StageFailed {
		t.Errorf("summary status = %s, want failed", s.Status)
	}
}

func TestProcessUnknownAudio(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.Process(context.Background(), uuid.New()); !errors.Is(err, ErrAudioNotFound) {
		t.Errorf("err = %v, want ErrAudioNotFound", err)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", maxErrorLen+5)
	if got := []rune(truncate(long)); len(got) != maxErrorLen {
		t.Errorf("len = %d", len(got))
	}
	if truncate("short") != "short" {
		t.Error("short string changed")
	}
}

func TestQueueRunsJobsInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []uuid.UUID
	q := NewQueue(4, func(ctx context.Context, id uuid.UUID) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := q.Enqueue(id); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	q.Wait()
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != ids[0] || seen[2] != ids[2] {
		t.Errorf("seen = %v", seen)
	}
	if err := q.Enqueue(uuid.New()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("enqueue after stop err = %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(1, func(ctx context.Context, id uuid.UUID) error { return nil })
	if err := q.Enqueue(uuid.New()); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(uuid.New()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestQueueRejectsDuplicateWhileQueued(t *testing.T) {
	f := newFixture(t)
	f.tr.err = errors.New("openai http 500: boom")
	a := f.upload(t)
	q := NewQueue(4, f.orch.Process)

	if err := q.Enqueue(a.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(a.ID); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("second enqueue err = %v, want ErrAlreadyQueued", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	q.Wait()

	if f.tr.calls != 1 {
		t.Errorf("transcriber called %d times, want 1", f.tr.calls)
	}
	if v := f.status(t, a.ID); v.Status != db.AudioFailed {
		t.Errorf("audio = %+v", v)
	}

	// The id is released once its run ends.
	if err := q.Enqueue(a.ID); err != nil {
		t.Errorf("enqueue after run: %v", err)
	}
	q.Wait()
	cancel()
	<-done
}

func TestQueueSkipsVanishedAudioQuietly(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	f := newFixture(t)
	q := NewQueue(1, f.orch.Process)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	if err := q.Enqueue(uuid.New()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Wait()
	cancel()
	<-done

	if strings.Contains(logs.String(), "level=ERROR") {
		t.Errorf("missing audio logged as error:\n%s", logs.String())
	}
	if f.tr.calls != 0 {
		t.Errorf("transcriber called %d times", f.tr.calls)
	}
}

func TestQueueFinishesInFlightRunOnShutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var ranCtxErr error
	var dropped uuid.UUID
	calls := 0
	q := NewQueue(4, func(ctx context.Context, id uuid.UUID) error {
		calls++
		if calls == 1 {
			close(started)
			<-release
			ranCtxErr = ctx.Err()
			return nil
		}
		dropped = id
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	if err := q.Enqueue(uuid.New()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-started
	if err := q.Enqueue(uuid.New()); err != nil {
		t.Fatalf("enqueue pending: %v", err)
	}
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not stop")
	}
	q.Wait()
	if ranCtxErr != nil {
		t.Errorf("in-flight run saw cancellation: %v", ranCtxErr)
	}
	if dropped != uuid.Nil {
		t.Errorf("pending run %s executed after shutdown", dropped)
	}
}

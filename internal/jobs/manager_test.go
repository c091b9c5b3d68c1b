package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paybridge/filegen/internal/archive"
	"github.com/paybridge/filegen/internal/generator"
	"github.com/paybridge/filegen/internal/generator/mock"
	"github.com/paybridge/filegen/internal/store"
	"github.com/paybridge/filegen/internal/stream"
	"github.com/paybridge/filegen/pkg/models"
)

type testEnv struct {
	manager *Manager
	store   *store.FileStore
	hub     *stream.Hub
	output  string
}

type envOption func(*Options)

func withRowGenerator(g generator.RowGenerator) envOption {
	return func(o *Options) { o.RowGenerator = g }
}

func withTranslator(tr generator.ReportTranslator) envOption {
	return func(o *Options) { o.Translator = tr }
}

func withMaxConcurrent(n int) envOption {
	return func(o *Options) { o.MaxConcurrent = n }
}

func withRetentionDays(d int) envOption {
	return func(o *Options) { o.RetentionDays = d }
}

func withClock(now func() time.Time) envOption {
	return func(o *Options) { o.Now = now }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	st := store.NewFileStore(filepath.Join(t.TempDir(), "jobs"))
	require.NoError(t, st.Init())

	hub := stream.NewHub()
	output := filepath.Join(t.TempDir(), "out")

	options := Options{
		Store:         st,
		RowGenerator:  generator.NewBuiltinGenerator(),
		Translator:    generator.NewStubTranslator(),
		Hub:           hub,
		OutputRoot:    output,
		MaxConcurrent: 2,
		RetentionDays: 7,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &testEnv{
		manager: NewManager(options),
		store:   st,
		hub:     hub,
		output:  output,
	}
}

func waitTerminal(t *testing.T, m *Manager, id uuid.UUID) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(id)
		require.NoError(t, err)
		if job.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func seedRequest(rows int, seed int64) models.JobRequest {
	date := "2026-09-01"
	return models.JobRequest{Rows: rows, Seed: &seed, ProcessingDate: &date}
}

func TestEnqueue_ReturnsSchedulableJob(t *testing.T) {
	env := newTestEnv(t)

	job := env.manager.Enqueue(context.Background(), seedRequest(5, 1))

	assert.Contains(t, []string{models.JobStatePending, models.JobStateRunning}, job.State)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.False(t, job.CreatedAt.IsZero())

	final := waitTerminal(t, env.manager, job.ID)
	assert.Equal(t, models.JobStateCompleted, final.State)
}

func TestCompletedJob_OutputInvariants(t *testing.T) {
	env := newTestEnv(t)

	job := env.manager.Enqueue(context.Background(), seedRequest(3, 42))
	final := waitTerminal(t, env.manager, job.ID)

	require.Equal(t, models.JobStateCompleted, final.State)
	assert.Equal(t, 100, final.Progress)
	assert.Nil(t, final.Error)
	require.NotNil(t, final.Output)
	require.NotEmpty(t, final.Output.Filenames)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.FinishedAt)
	require.NotNil(t, final.DurationMs)
	assert.GreaterOrEqual(t, *final.DurationMs, int64(0))

	// Every listed filename exists in the artifact folder and in the archive.
	dir := filepath.Join(env.output, job.ID.String())
	archived, err := archive.List(final.Output.ArchivePath)
	require.NoError(t, err)
	for _, name := range final.Output.Filenames {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "missing artifact %s", name)
		assert.Contains(t, archived, name)
	}
}

func TestCompletedJob_MetadataRecordsRowCount(t *testing.T) {
	env := newTestEnv(t)

	enqueued := env.manager.Enqueue(context.Background(), seedRequest(1, 42))
	sub, err := env.manager.Subscribe(enqueued.ID)
	require.NoError(t, err)
	defer sub.Close()

	// Drain the feed until the completion event.
	var last models.JobEvent
	for evt := range sub.Events() {
		last = evt
		if evt.Event == models.EventJobComplete {
			break
		}
	}
	require.Equal(t, models.EventJobComplete, last.Event)
	assert.Equal(t, models.JobStateCompleted, last.State)
	require.NotNil(t, last.Progress)
	assert.Equal(t, 100, *last.Progress)

	id := uuid.MustParse(last.ID)
	job, err := env.manager.Get(id)
	require.NoError(t, err)

	data, err := os.ReadFile(job.Output.MetadataPath)
	require.NoError(t, err)

	var meta metadataDoc
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, 1, meta.DataFile.Rows)
	assert.Equal(t, job.ID.String(), meta.JobID)
	assert.NotNil(t, meta.DurationMs)
	assert.NotEmpty(t, meta.Stages)
}

func TestSimulateFailure_AlwaysFails(t *testing.T) {
	env := newTestEnv(t)

	job := env.manager.Enqueue(context.Background(), models.JobRequest{Rows: 2, SimulateFailure: true})
	final := waitTerminal(t, env.manager, job.ID)

	assert.Equal(t, models.JobStateFailed, final.State)
	require.NotNil(t, final.Error)
	assert.Equal(t, models.ErrCodeSimulatedFailure, final.Error.Code)
	assert.Nil(t, final.Output)
}

func TestFailedJob_AdapterErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"retries exhausted", generator.ErrRetriesExhausted, models.ErrCodeRetriesExhausted},
		{"not configured", generator.ErrNotConfigured, models.ErrCodeConfiguration},
		{"transport", generator.ErrTransport, models.ErrCodeTransport},
		{"generic", errors.New("boom"), models.ErrCodeJobFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, withRowGenerator(mock.NewFailingRowGenerator(tt.err)))

			job := env.manager.Enqueue(context.Background(), models.JobRequest{Rows: 2})
			final := waitTerminal(t, env.manager, job.ID)

			assert.Equal(t, models.JobStateFailed, final.State)
			require.NotNil(t, final.Error)
			assert.Equal(t, tt.wantCode, final.Error.Code)
			assert.Nil(t, final.Output)
		})
	}
}

func TestTranslatorFailure_FailsJob(t *testing.T) {
	env := newTestEnv(t, withTranslator(mock.NewFailingTranslator(generator.ErrRetriesExhausted)))

	job := env.manager.Enqueue(context.Background(), models.JobRequest{Rows: 2})
	final := waitTerminal(t, env.manager, job.ID)

	assert.Equal(t, models.JobStateFailed, final.State)
	assert.Equal(t, models.ErrCodeRetriesExhausted, final.Error.Code)
}

func TestTerminalJob_PersistedMatchesMemory(t *testing.T) {
	env := newTestEnv(t)

	job := env.manager.Enqueue(context.Background(), seedRequest(2, 7))
	final := waitTerminal(t, env.manager, job.ID)

	persisted, err := env.store.Load(job.ID)
	require.NoError(t, err)
	assert.Equal(t, final.State, persisted.State)
	assert.Equal(t, final.Progress, persisted.Progress)
	require.NotNil(t, persisted.Output)
	assert.Equal(t, final.Output.ArchivePath, persisted.Output.ArchivePath)
}

func TestConcurrencyCeiling_RespectedUnderBurst(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32

	blocking := &mock.RowGenerator{
		Name_: "blocking",
		GenerateFunc: func(ctx context.Context, req generator.GenerateRequest) (*generator.GenerateResult, error) {
			started.Add(1)
			<-release
			return mock.DefaultRows(req.Rows), nil
		},
	}

	env := newTestEnv(t, withRowGenerator(blocking), withMaxConcurrent(2))

	const burst = 6
	ids := make([]uuid.UUID, 0, burst)
	for i := 0; i < burst; i++ {
		job := env.manager.Enqueue(context.Background(), models.JobRequest{Rows: 1})
		ids = append(ids, job.ID)
	}

	// Two pipelines occupy the slots; the ceiling must hold while the
	// remaining jobs queue in pending.
	require.Eventually(t, func() bool { return started.Load() == 2 },
		time.Second, time.Millisecond)
	for i := 0; i < 20; i++ {
		assert.LessOrEqual(t, env.manager.RunningCount(), 2)
		time.Sleep(time.Millisecond)
	}

	pending := 0
	for _, j := range env.manager.List() {
		if j.State == models.JobStatePending {
			pending++
		}
	}
	assert.Equal(t, burst-2, pending)

	close(release)
	for _, id := range ids {
		final := waitTerminal(t, env.manager, id)
		assert.Equal(t, models.JobStateCompleted, final.State)
	}
}

func TestDispatchOrder_FIFO(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var dispatched []uuid.UUID

	gen := &mock.RowGenerator{
		Name_: "recording",
		GenerateFunc: func(ctx context.Context, req generator.GenerateRequest) (*generator.GenerateResult, error) {
			<-release
			return mock.DefaultRows(req.Rows), nil
		},
	}
	env := newTestEnv(t, withRowGenerator(gen), withMaxConcurrent(1))

	// Record the running order by watching state transitions.
	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		job := env.manager.Enqueue(context.Background(), models.JobRequest{Rows: 1})
		ids = append(ids, job.ID)
	}

	go func() {
		seen := make(map[uuid.UUID]bool)
		for {
			mu.Lock()
			done := len(dispatched) >= len(ids)
			mu.Unlock()
			if done {
				return
			}
			for _, j := range env.manager.List() {
				mu.Lock()
				if !seen[j.ID] && j.State != models.JobStatePending {
					seen[j.ID] = true
					dispatched = append(dispatched, j.ID)
				}
				mu.Unlock()
			}
			time.Sleep(time.Millisecond)
		}
	}()

	close(release)
	for _, id := range ids {
		waitTerminal(t, env.manager, id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, dispatched)
}

func TestCancel_PendingJob(t *testing.T) {
	// A full semaphore keeps new jobs pending.
	release := make(chan struct{})
	blocking := &mock.RowGenerator{
		GenerateFunc: func(ctx context.Context, req generator.GenerateRequest) (*generator.GenerateResult, error) {
			<-release
			return mock.DefaultRows(req.Rows), nil
		},
	}
	env := newTestEnv(t, withRowGenerator(blocking), withMaxConcurrent(1))
	defer close(release)

	running := env.manager.Enqueue(context.Background(), models.JobRequest{Rows: 1})
	queued := env.manager.Enqueue(context.Background(), models.JobRequest{Rows: 1})

	require.NoError(t, env.manager.Cancel(queued.ID))

	cancelled, err := env.manager.Get(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, cancelled.State)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, models.ErrCodeCancelled, cancelled.Error.Code)
	assert.Nil(t, cancelled.Output)

	// The running job is unaffected.
	got, err := env.manager.Get(running.ID)
	require.NoError(t, err)
	assert.False(t, got.Terminal())
}

func TestCancel_RunningJobObservedAtStageBoundary(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := &mock.RowGenerator{
		GenerateFunc: func(ctx context.Context, req generator.GenerateRequest) (*generator.GenerateResult, error) {
			close(entered)
			<-release
			return mock.DefaultRows(req.Rows), nil
		},
	}
	env := newTestEnv(t, withRowGenerator(blocking))

	job := env.manager.Enqueue(context.Background(), models.JobRequest{Rows: 1})
	<-entered

	require.NoError(t, env.manager.Cancel(job.ID))
	close(release)

	final := waitTerminal(t, env.manager, job.ID)
	assert.Equal(t, models.JobStateFailed, final.State)
	assert.Equal(t, models.ErrCodeCancelled, final.Error.Code)
}

func TestCancel_TerminalJob(t *testing.T) {
	env := newTestEnv(t)

	job := env.manager.Enqueue(context.Background(), seedRequest(1, 1))
	waitTerminal(t, env.manager, job.ID)

	err := env.manager.Cancel(job.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancel_UnknownJob(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.manager.Cancel(uuid.New()), ErrNotFound)
}

func TestCancelOnCreate_FailsBeforeDispatch(t *testing.T) {
	env := newTestEnv(t)

	job := env.manager.Enqueue(context.Background(), models.JobRequest{Rows: 1, CancelOnCreate: true})

	assert.Equal(t, models.JobStateFailed, job.State)
	require.NotNil(t, job.Error)
	assert.Equal(t, models.ErrCodeCancelled, job.Error.Code)
	assert.Nil(t, job.StartedAt)
}

func TestOriginatingOverride_PatchedIntoArtifact(t *testing.T) {
	env := newTestEnv(t)

	seed := int64(42)
	date := "2026-09-01"
	job := env.manager.Enqueue(context.Background(), models.JobRequest{
		Rows:           4,
		Seed:           &seed,
		ProcessingDate: &date,
		Originating: &models.OriginatingAccount{
			SortCode:      "654321",
			AccountNumber: "87654321",
			SUN:           "123456",
		},
	})
	final := waitTerminal(t, env.manager, job.ID)
	require.Equal(t, models.JobStateCompleted, final.State)

	dataPath := filepath.Join(env.output, job.ID.String(), final.Output.Filenames[0])
	content, err := os.ReadFile(dataPath)
	require.NoError(t, err)

	lines := 0
	for _, line := range splitLines(content) {
		require.GreaterOrEqual(t, len(line), generator.OrigAccountStart+generator.OrigAccountLen)
		assert.Equal(t, "654321",
			string(line[generator.OrigSortCodeStart:generator.OrigSortCodeStart+generator.OrigSortCodeLen]))
		assert.Equal(t, "87654321",
			string(line[generator.OrigAccountStart:generator.OrigAccountStart+generator.OrigAccountLen]))
		lines++
	}
	assert.Equal(t, 4, lines)

	// The metadata checksum reflects the patched content.
	metaData, err := os.ReadFile(final.Output.MetadataPath)
	require.NoError(t, err)
	var meta metadataDoc
	require.NoError(t, json.Unmarshal(metaData, &meta))
	assert.Equal(t, archive.Checksum(content), meta.DataFile.Checksum)
}

func splitLines(content []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range content {
		if b == '\n' {
			if i > start {
				lines = append(lines, content[start:i])
			}
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}

func TestSweep_ReclaimsExpiredJobs(t *testing.T) {
	current := time.Now().UTC()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	env := newTestEnv(t, withRetentionDays(0), withClock(clock))

	job := env.manager.Enqueue(context.Background(), seedRequest(1, 1))
	final := waitTerminal(t, env.manager, job.ID)
	require.Equal(t, models.JobStateCompleted, final.State)

	// Too fresh: a finish time inside the window survives the sweep.
	assert.Equal(t, 0, env.manager.SweepOnce())
	_, err := env.manager.Get(job.ID)
	assert.NoError(t, err)

	// Age the clock past the (zero-day) retention window.
	mu.Lock()
	current = current.Add(24 * time.Hour)
	mu.Unlock()

	assert.Equal(t, 1, env.manager.SweepOnce())

	_, err = env.manager.Get(job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.store.Load(job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = os.Stat(filepath.Join(env.output, job.ID.String()))
	assert.True(t, os.IsNotExist(err))
}

func TestSweep_SkipsActiveAndFreshJobs(t *testing.T) {
	env := newTestEnv(t, withRetentionDays(7))

	job := env.manager.Enqueue(context.Background(), seedRequest(1, 1))
	waitTerminal(t, env.manager, job.ID)

	assert.Equal(t, 0, env.manager.SweepOnce())
	_, err := env.manager.Get(job.ID)
	assert.NoError(t, err)
}

func TestRestore_ReschedulesPendingOnly(t *testing.T) {
	st := store.NewFileStore(filepath.Join(t.TempDir(), "jobs"))
	require.NoError(t, st.Init())

	now := time.Now().UTC()
	pending := &models.Job{
		ID: uuid.New(), State: models.JobStatePending,
		Request: seedRequest(1, 5), CreatedAt: now, UpdatedAt: now,
	}
	started := now.Add(-time.Minute)
	stuck := &models.Job{
		ID: uuid.New(), State: models.JobStateRunning, Progress: 70,
		Request: seedRequest(1, 6), CreatedAt: now.Add(-2 * time.Minute),
		UpdatedAt: started, StartedAt: &started,
	}
	require.NoError(t, st.Save(pending))
	require.NoError(t, st.Save(stuck))

	hub := stream.NewHub()
	m := NewManager(Options{
		Store:         st,
		RowGenerator:  generator.NewBuiltinGenerator(),
		Translator:    generator.NewStubTranslator(),
		Hub:           hub,
		OutputRoot:    filepath.Join(t.TempDir(), "out"),
		MaxConcurrent: 2,
	})
	require.NoError(t, m.Restore(context.Background()))

	// The pending job runs to completion.
	final := waitTerminal(t, m, pending.ID)
	assert.Equal(t, models.JobStateCompleted, final.State)

	// The interrupted running job stays at its last persisted checkpoint.
	got, err := m.Get(stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, got.State)
	assert.Equal(t, 70, got.Progress)
}

func TestReset_ClearsMemoryAndStore(t *testing.T) {
	env := newTestEnv(t)

	job := env.manager.Enqueue(context.Background(), seedRequest(1, 1))
	waitTerminal(t, env.manager, job.ID)

	env.manager.Reset()

	assert.Empty(t, env.manager.List())
	_, err := env.store.Load(job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProgress_MonotonicallyNonDecreasing(t *testing.T) {
	env := newTestEnv(t)

	job := env.manager.Enqueue(context.Background(), seedRequest(2, 3))
	sub, err := env.manager.Subscribe(job.ID)
	require.NoError(t, err)
	defer sub.Close()

	last := -1
	for evt := range sub.Events() {
		if evt.Progress == nil {
			continue
		}
		assert.GreaterOrEqual(t, *evt.Progress, last)
		last = *evt.Progress
		if evt.Event == models.EventJobComplete {
			break
		}
	}
	assert.Equal(t, 100, last)
}

func TestPipeline_NeverRevivesTerminalJob(t *testing.T) {
	env := newTestEnv(t)

	req := seedRequest(1, 1)
	req.CancelOnCreate = true
	job := env.manager.Enqueue(context.Background(), req)
	require.Equal(t, models.JobStateFailed, job.State)

	// Invoke the pipeline for the failed job directly, standing in for a
	// scheduler pass that raced the cancellation. It must refuse the job.
	env.manager.run(context.Background(), job.ID)

	got, err := env.manager.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, models.ErrCodeCancelled, got.Error.Code)
	assert.Nil(t, got.Output)
	assert.Nil(t, got.StartedAt)

	persisted, err := env.store.Load(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, persisted.State)
}

func TestCancel_PendingReservesAgainstDispatch(t *testing.T) {
	env := newTestEnv(t, withMaxConcurrent(1),
		withRowGenerator(&mock.RowGenerator{
			GenerateFunc: func(ctx context.Context, req generator.GenerateRequest) (*generator.GenerateResult, error) {
				time.Sleep(50 * time.Millisecond)
				return mock.DefaultRows(req.Rows), nil
			},
		}))

	// Fill the single slot, then queue a second job and cancel it while
	// it waits. The scheduler pass triggered by the first job finishing
	// must not pick the cancelled job up.
	first := env.manager.Enqueue(context.Background(), seedRequest(1, 1))
	queued := env.manager.Enqueue(context.Background(), seedRequest(1, 2))

	require.NoError(t, env.manager.Cancel(queued.ID))

	waitTerminal(t, env.manager, first.ID)
	got := waitTerminal(t, env.manager, queued.ID)
	assert.Equal(t, models.JobStateFailed, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, models.ErrCodeCancelled, got.Error.Code)
	assert.Nil(t, got.StartedAt)
}

func TestSubscribe_DuringTerminalTransitionAlwaysEnds(t *testing.T) {
	env := newTestEnv(t)

	// Subscribing while the job is mid-completion must always deliver an
	// end record and close the feed, never leave it hanging open.
	for i := 0; i < 25; i++ {
		job := env.manager.Enqueue(context.Background(), seedRequest(1, int64(i)))

		sub, err := env.manager.Subscribe(job.ID)
		require.NoError(t, err)

		deadline := time.After(5 * time.Second)
		for open := true; open; {
			select {
			case _, ok := <-sub.Events():
				open = ok
			case <-deadline:
				t.Fatal("subscription feed never closed")
			}
		}
	}
}

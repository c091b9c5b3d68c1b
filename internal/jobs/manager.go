// Package jobs owns the in-memory job table and runs each job through the
// generation pipeline under a configured concurrency ceiling. The table is
// the source of truth while the process is live; the store is a write-through
// mirror used to reseed the table on warm restart.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/paybridge/filegen/internal/generator"
	"github.com/paybridge/filegen/internal/store"
	"github.com/paybridge/filegen/internal/stream"
	"github.com/paybridge/filegen/pkg/models"
)

var (
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrNotCancellable is returned when cancelling a terminal job.
	ErrNotCancellable = errors.New("job is not cancellable")
)

// Options configures a Manager.
type Options struct {
	Store         store.Store
	RowGenerator  generator.RowGenerator
	Translator    generator.ReportTranslator
	Hub           *stream.Hub
	OutputRoot    string
	MaxConcurrent int
	RetentionDays int
	StageDelay    time.Duration

	// Now is the clock used for all timestamps and the retention cutoff.
	// Tests inject their own to age jobs artificially.
	Now func() time.Time
}

// Manager is the job scheduler and state machine. Construct one per process
// and hand it by reference to the route layer and the sweeper.
type Manager struct {
	store      store.Store
	rows       generator.RowGenerator
	translator generator.ReportTranslator
	hub        *stream.Hub

	outputRoot    string
	retentionDays int
	stageDelay    time.Duration
	now           func() time.Time

	sem *semaphore.Weighted

	mu         sync.Mutex
	table      map[uuid.UUID]*models.Job
	order      []uuid.UUID
	dispatched map[uuid.UUID]bool
}

// NewManager creates a Manager. The store must already be initialised.
func NewManager(opts Options) *Manager {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:         opts.Store,
		rows:          opts.RowGenerator,
		translator:    opts.Translator,
		hub:           opts.Hub,
		outputRoot:    opts.OutputRoot,
		retentionDays: opts.RetentionDays,
		stageDelay:    opts.StageDelay,
		now:           now,
		sem:           semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		table:         make(map[uuid.UUID]*models.Job),
		dispatched:    make(map[uuid.UUID]bool),
	}
}

// Enqueue creates a pending job for the request, persists it, announces it,
// and attempts to schedule it. The request is assumed validated by the route
// layer. Failures from here on surface through job state, never as an error
// from Enqueue.
func (m *Manager) Enqueue(ctx context.Context, req models.JobRequest) *models.Job {
	now := m.now()
	job := &models.Job{
		ID:        uuid.New(),
		State:     models.JobStatePending,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.table[job.ID] = job
	m.order = append(m.order, job.ID)
	if req.CancelOnCreate {
		// Never eligible for dispatch; failJob below makes it terminal.
		m.dispatched[job.ID] = true
	}
	snapshot := job.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
	m.hub.Publish(job.ID, models.NewJobEvent(models.EventJobPending, snapshot))
	slog.Info("job enqueued", "job_id", job.ID, "rows", req.Rows)

	if req.CancelOnCreate {
		m.failJob(job.ID, models.ErrCodeCancelled, errors.New("cancelled on create"))
		return m.mustGet(job.ID)
	}

	m.schedule(ctx)
	return m.mustGet(job.ID)
}

// Get returns a snapshot of the job, or ErrNotFound.
func (m *Manager) Get(id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.table[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// List returns snapshots of all jobs in creation order.
func (m *Manager) List() []*models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Job, 0, len(m.order))
	for _, id := range m.order {
		if job, ok := m.table[id]; ok {
			out = append(out, job.Clone())
		}
	}
	return out
}

// Subscribe attaches a live feed to the job, delivering its current snapshot
// first. Snapshot and attachment happen under the table lock: terminal
// transitions take the same lock before they publish, so the subscriber
// either sees a terminal snapshot or is attached in time for the terminal
// records. It can never straddle the two and hang open.
func (m *Manager) Subscribe(id uuid.UUID) (*stream.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.table[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.hub.Subscribe(job.Clone()), nil
}

// Cancel requests cancellation. A pending job fails immediately; a running
// job is flagged and the pipeline observes the flag at its next stage
// boundary; a terminal job is not cancellable.
func (m *Manager) Cancel(id uuid.UUID) error {
	m.mu.Lock()
	job, ok := m.table[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}

	switch {
	case job.Terminal():
		m.mu.Unlock()
		return ErrNotCancellable
	case job.State == models.JobStatePending && !m.dispatched[id]:
		// Reserve the job before releasing the lock so a concurrent
		// schedule pass cannot dispatch it in the window before failJob
		// makes it terminal.
		m.dispatched[id] = true
		m.mu.Unlock()
		m.failJob(id, models.ErrCodeCancelled, errors.New("cancelled before dispatch"))
		return nil
	default:
		job.CancelRequested = true
		job.UpdatedAt = m.now()
		snapshot := job.Clone()
		m.mu.Unlock()
		m.persist(snapshot)
		slog.Info("cancellation requested", "job_id", id)
		return nil
	}
}

// Restore reseeds the table from the store after a restart. Pending jobs are
// re-scheduled; jobs persisted as running are left at their last checkpoint
// rather than resumed mid-pipeline.
func (m *Manager) Restore(ctx context.Context) error {
	jobs, err := m.store.LoadAll()
	if err != nil {
		return fmt.Errorf("load persisted jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	m.mu.Lock()
	restored, pending := 0, 0
	for _, job := range jobs {
		if _, exists := m.table[job.ID]; exists {
			continue
		}
		m.table[job.ID] = job
		m.order = append(m.order, job.ID)
		restored++
		if job.State == models.JobStatePending {
			pending++
		}
	}
	m.mu.Unlock()

	slog.Info("job table restored", "jobs", restored, "pending", pending)
	if pending > 0 {
		m.schedule(ctx)
	}
	return nil
}

// Reset drops every job from memory and the store and removes its artifacts.
// Intended for tests and operational resets.
func (m *Manager) Reset() {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.table))
	for id := range m.table {
		ids = append(ids, id)
	}
	m.table = make(map[uuid.UUID]*models.Job)
	m.order = nil
	m.dispatched = make(map[uuid.UUID]bool)
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.store.Delete(id); err != nil {
			slog.Warn("reset: store delete failed", "job_id", id, "error", err)
		}
		os.RemoveAll(m.artifactDir(id))
	}
}

// SweepOnce removes terminal jobs whose finish time is older than the
// retention window, reclaiming their artifacts, table entries and persisted
// records. Per-job failures are logged and do not stop the pass. Returns the
// number of jobs reclaimed.
func (m *Manager) SweepOnce() int {
	cutoff := m.now().Add(-time.Duration(m.retentionDays) * 24 * time.Hour)

	m.mu.Lock()
	var expired []*models.Job
	for _, job := range m.table {
		if job.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			expired = append(expired, job)
		}
	}
	m.mu.Unlock()

	removed := 0
	for _, job := range expired {
		if err := os.RemoveAll(m.artifactDir(job.ID)); err != nil {
			slog.Warn("sweep: artifact removal failed", "job_id", job.ID, "error", err)
		}
		if err := m.store.Delete(job.ID); err != nil {
			slog.Warn("sweep: store delete failed", "job_id", job.ID, "error", err)
		}

		m.mu.Lock()
		delete(m.table, job.ID)
		delete(m.dispatched, job.ID)
		for i, id := range m.order {
			if id == job.ID {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		m.mu.Unlock()

		removed++
		slog.Info("job swept", "job_id", job.ID, "state", job.State, "finished_at", job.FinishedAt)
	}
	return removed
}

// RunningCount returns the number of jobs currently in the running state.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.table {
		if job.State == models.JobStateRunning {
			n++
		}
	}
	return n
}

// schedule dispatches pending jobs in creation order while concurrency slots
// are free. Called on every enqueue and after every terminal transition.
func (m *Manager) schedule(ctx context.Context) {
	for {
		m.mu.Lock()
		var next *models.Job
		for _, id := range m.order {
			job, ok := m.table[id]
			if !ok || job.State != models.JobStatePending || m.dispatched[id] {
				continue
			}
			next = job
			break
		}
		if next == nil {
			m.mu.Unlock()
			return
		}
		if !m.sem.TryAcquire(1) {
			m.mu.Unlock()
			return
		}
		m.dispatched[next.ID] = true
		id := next.ID
		m.mu.Unlock()

		go func() {
			defer func() {
				m.sem.Release(1)
				m.schedule(ctx)
			}()
			m.run(ctx, id)
		}()
	}
}

func (m *Manager) mustGet(id uuid.UUID) *models.Job {
	job, err := m.Get(id)
	if err != nil {
		// The table entry was created by the caller; absence means a
		// concurrent sweep, which cannot happen to a non-terminal job.
		panic(fmt.Sprintf("job %s vanished: %v", id, err))
	}
	return job
}

// persist writes a snapshot through to the store. Store failures are logged
// and swallowed: persistence is a durability aid, not a precondition for the
// in-memory state machine.
func (m *Manager) persist(job *models.Job) {
	if err := m.store.Save(job); err != nil {
		slog.Warn("job persistence failed", "job_id", job.ID, "state", job.State, "error", err)
	}
}

func (m *Manager) artifactDir(id uuid.UUID) string {
	return filepath.Join(m.outputRoot, id.String())
}

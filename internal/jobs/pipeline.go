package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/paybridge/filegen/internal/archive"
	"github.com/paybridge/filegen/internal/generator"
	"github.com/paybridge/filegen/pkg/models"
)

// Progress checkpoints for the three pipeline stages.
const (
	progressPrepared  = 20
	progressGenerated = 70
	progressPackaged  = 100
)

const metadataFilename = "metadata.json"

// metadataDoc is the per-job metadata document written next to the
// artifacts and included in the archive.
type metadataDoc struct {
	JobID       string            `json:"job_id"`
	Request     models.JobRequest `json:"request"`
	GeneratedAt time.Time         `json:"generated_at"`
	DataFile    artifactInfo      `json:"data_file"`
	ReportFile  artifactInfo      `json:"report_file"`
	Stages      []stageMarker     `json:"stages"`
	DurationMs  *int64            `json:"duration_ms,omitempty"`
}

type artifactInfo struct {
	Name      string `json:"name"`
	SizeBytes int    `json:"size_bytes"`
	Checksum  string `json:"checksum"`
	Rows      int    `json:"rows"`
}

type stageMarker struct {
	Name     string    `json:"name"`
	Progress int       `json:"progress"`
	At       time.Time `json:"at"`
}

// run executes the pipeline for a dispatched job. All failures end in a
// terminal failed state; nothing escapes as an error or panic.
func (m *Manager) run(ctx context.Context, id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job pipeline", "job_id", id, "error", r)
			m.failJob(id, models.ErrCodeJobFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	started := false
	snapshot := m.update(id, func(j *models.Job) {
		if j.State != models.JobStatePending {
			return
		}
		j.State = models.JobStateRunning
		t := m.now()
		j.StartedAt = &t
		started = true
	})
	if snapshot == nil || !started {
		// The job was cancelled or swept between scheduling and here.
		// A terminal state never transitions again.
		return
	}
	m.persist(snapshot)
	m.hub.Publish(id, models.NewJobEvent(models.EventJobProgress, snapshot))
	slog.Info("job started", "job_id", id, "rows", snapshot.Request.Rows)

	req := snapshot.Request
	var stages []stageMarker

	// Stage 1: prepare the artifact folder. No external calls.
	if m.checkCancel(id) {
		return
	}
	if req.SimulateFailure {
		m.failJob(id, models.ErrCodeSimulatedFailure, errors.New("simulated failure requested"))
		return
	}
	dir := m.artifactDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.failJob(id, models.ErrCodeJobFailed, fmt.Errorf("create artifact dir: %w", err))
		return
	}
	stages = m.checkpoint(id, "prepare", progressPrepared, stages)

	// Stage 2: row-file generation via the external adapter.
	if m.checkCancel(id) {
		return
	}
	genReq := generator.GenerateRequest{
		Rows:                    req.Rows,
		Seed:                    req.Seed,
		AllowedTransactionCodes: req.AllowedTransactionCodes,
		Originating:             req.Originating,
	}
	if req.ProcessingDate != nil {
		genReq.ProcessingDate = *req.ProcessingDate
	}
	rows, err := m.rows.Generate(ctx, genReq)
	if err != nil {
		m.failJob(id, errorCode(err), fmt.Errorf("row generation: %w", err))
		return
	}
	stages = m.checkpoint(id, "generate", progressGenerated, stages)

	// Stage 3: translate the report, apply overrides, write artifacts,
	// package the archive.
	if m.checkCancel(id) {
		return
	}
	trReq := generator.TranslateRequest{Rows: rows.Rows}
	if req.Originating != nil {
		trReq.SUN = req.Originating.SUN
	}
	if req.ProcessingDate != nil {
		trReq.ProcessingDate = *req.ProcessingDate
	}
	report, err := m.translator.Translate(ctx, trReq)
	if err != nil {
		m.failJob(id, errorCode(err), fmt.Errorf("report translation: %w", err))
		return
	}

	content := rows.Content
	checksum := rows.Checksum
	if req.Originating != nil {
		content = generator.PatchOriginating(content, *req.Originating)
		checksum = archive.Checksum(content)
	}

	if err := os.WriteFile(filepath.Join(dir, rows.Filename), content, 0o644); err != nil {
		m.failJob(id, models.ErrCodeJobFailed, fmt.Errorf("write data file: %w", err))
		return
	}
	if err := os.WriteFile(filepath.Join(dir, report.Filename), report.Content, 0o644); err != nil {
		m.failJob(id, models.ErrCodeJobFailed, fmt.Errorf("write report file: %w", err))
		return
	}

	meta := metadataDoc{
		JobID:       id.String(),
		Request:     req,
		GeneratedAt: m.now(),
		DataFile: artifactInfo{
			Name:      rows.Filename,
			SizeBytes: len(content),
			Checksum:  checksum,
			Rows:      rows.Rows,
		},
		ReportFile: artifactInfo{
			Name:      report.Filename,
			SizeBytes: len(report.Content),
			Checksum:  report.Checksum,
			Rows:      report.Rows,
		},
		Stages: stages,
	}
	metaPath := filepath.Join(dir, metadataFilename)
	if err := writeMetadata(metaPath, meta); err != nil {
		m.failJob(id, models.ErrCodeJobFailed, err)
		return
	}

	filenames := []string{rows.Filename, report.Filename, metadataFilename}
	archivePath := filepath.Join(dir, id.String()+".zip")
	if err := archive.Pack(archivePath, dir, filenames); err != nil {
		m.failJob(id, models.ErrCodeJobFailed, fmt.Errorf("package archive: %w", err))
		return
	}

	output := &models.JobOutput{
		Filenames:    filenames,
		ArchivePath:  archivePath,
		MetadataPath: metaPath,
	}
	stages = m.checkpoint(id, "package", progressPackaged, stages)

	completed := false
	snapshot = m.update(id, func(j *models.Job) {
		if j.State != models.JobStateRunning {
			return
		}
		j.State = models.JobStateCompleted
		j.Progress = progressPackaged
		j.Output = output
		t := m.now()
		j.FinishedAt = &t
		if j.StartedAt != nil {
			d := t.Sub(*j.StartedAt).Milliseconds()
			j.DurationMs = &d
		}
		completed = true
	})
	if snapshot == nil || !completed {
		return
	}

	// Patch the recorded duration into the on-disk metadata document.
	meta.Stages = stages
	meta.DurationMs = snapshot.DurationMs
	if err := writeMetadata(metaPath, meta); err != nil {
		slog.Warn("metadata duration patch failed", "job_id", id, "error", err)
	}

	m.persist(snapshot)
	m.hub.PublishTerminal(id, snapshot)
	slog.Info("job completed",
		"job_id", id,
		"rows", rows.Rows,
		"duration_ms", snapshot.DurationMs,
		"archive", archivePath,
	)
}

// checkpoint advances progress, persists the transition before the next
// stage may start, publishes it, and applies the configured pacing delay.
func (m *Manager) checkpoint(id uuid.UUID, stage string, progress int, stages []stageMarker) []stageMarker {
	snapshot := m.update(id, func(j *models.Job) {
		if !j.Terminal() && progress > j.Progress {
			j.Progress = progress
		}
	})
	m.persist(snapshot)
	m.hub.Publish(id, models.NewJobEvent(models.EventJobProgress, snapshot))

	if m.stageDelay > 0 {
		time.Sleep(m.stageDelay)
	}
	return append(stages, stageMarker{Name: stage, Progress: progress, At: m.now()})
}

// checkCancel observes the cooperative cancellation flag at a stage boundary.
func (m *Manager) checkCancel(id uuid.UUID) bool {
	m.mu.Lock()
	job, ok := m.table[id]
	cancelled := ok && job.CancelRequested
	m.mu.Unlock()

	if cancelled {
		m.failJob(id, models.ErrCodeCancelled, errors.New("cancelled at stage boundary"))
	}
	return cancelled
}

// failJob moves the job to the terminal failed state with a structured
// error, persists it, and emits the terminal notifications. A set
// cancellation flag wins over the supplied code so clients can tell
// cancellation from genuine failure.
func (m *Manager) failJob(id uuid.UUID, code string, cause error) {
	transitioned := false
	snapshot := m.update(id, func(j *models.Job) {
		if j.Terminal() {
			return
		}
		if j.CancelRequested {
			code = models.ErrCodeCancelled
		}
		j.State = models.JobStateFailed
		j.Error = &models.JobError{Code: code, Message: cause.Error()}
		t := m.now()
		j.FinishedAt = &t
		transitioned = true
	})
	if snapshot == nil || !transitioned {
		return
	}

	m.persist(snapshot)
	m.hub.PublishTerminal(id, snapshot)
	slog.Warn("job failed", "job_id", id, "code", snapshot.Error.Code, "error", cause)
}

// update applies fn to the job under the table lock and returns a snapshot,
// or nil if the job no longer exists.
func (m *Manager) update(id uuid.UUID, fn func(*models.Job)) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.table[id]
	if !ok {
		return nil
	}
	fn(job)
	job.UpdatedAt = m.now()
	return job.Clone()
}

// errorCode maps adapter errors to the stable job error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, generator.ErrNotConfigured):
		return models.ErrCodeConfiguration
	case errors.Is(err, generator.ErrRetriesExhausted):
		return models.ErrCodeRetriesExhausted
	case errors.Is(err, generator.ErrTransport):
		return models.ErrCodeTransport
	default:
		return models.ErrCodeJobFailed
	}
}

func writeMetadata(path string, meta metadataDoc) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

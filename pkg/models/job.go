package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatePending   = "pending"
	JobStateRunning   = "running"
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
)

// Stable error codes stored on failed jobs and surfaced in API responses.
const (
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeTransport        = "TRANSPORT_ERROR"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeRetriesExhausted = "RETRIES_EXHAUSTED"
	ErrCodeJobFailed        = "JOB_FAILED"
	ErrCodeSimulatedFailure = "SIMULATED_FAILURE"
)

// Job tracks one file-generation run. The API returns a job id on
// POST /api/v1/files; the client polls GET /api/v1/jobs/{id} or streams
// GET /api/v1/jobs/{id}/events until the state is completed or failed.
type Job struct {
	ID         uuid.UUID  `json:"id"`
	State      string     `json:"state"`
	Request    JobRequest `json:"request"`
	Progress   int        `json:"progress"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
	Output     *JobOutput `json:"output,omitempty"`
	Error      *JobError  `json:"error,omitempty"`

	// CancelRequested is a cooperative flag observed by the pipeline at
	// stage boundaries. Persisted best-effort only.
	CancelRequested bool `json:"-"`
}

// Terminal reports whether the job can no longer change state.
func (j *Job) Terminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}

// Clone returns a deep copy safe to hand out across goroutines.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.DurationMs != nil {
		d := *j.DurationMs
		c.DurationMs = &d
	}
	if j.Output != nil {
		o := *j.Output
		o.Filenames = append([]string(nil), j.Output.Filenames...)
		c.Output = &o
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	c.Request = j.Request.clone()
	return &c
}

// JobRequest is the immutable snapshot of submission parameters.
type JobRequest struct {
	Rows                    int                 `json:"rows"`
	Seed                    *int64              `json:"seed,omitempty"`
	ProcessingDate          *string             `json:"processing_date,omitempty"`
	AllowedTransactionCodes []string            `json:"allowed_transaction_codes,omitempty"`
	Originating             *OriginatingAccount `json:"originating,omitempty"`
	CancelOnCreate          bool                `json:"cancel_on_create,omitempty"`
	SimulateFailure         bool                `json:"simulate_failure,omitempty"`
}

func (r JobRequest) clone() JobRequest {
	c := r
	if r.Seed != nil {
		s := *r.Seed
		c.Seed = &s
	}
	if r.ProcessingDate != nil {
		d := *r.ProcessingDate
		c.ProcessingDate = &d
	}
	c.AllowedTransactionCodes = append([]string(nil), r.AllowedTransactionCodes...)
	if r.Originating != nil {
		o := *r.Originating
		c.Originating = &o
	}
	return c
}

// OriginatingAccount overrides the account identity embedded in generated rows.
type OriginatingAccount struct {
	SortCode      string `json:"sort_code"`
	AccountNumber string `json:"account_number"`
	Name          string `json:"name,omitempty"`
	SUN           string `json:"sun,omitempty"`
}

// JobOutput is present only on completed jobs.
type JobOutput struct {
	Filenames    []string `json:"filenames"`
	ArchivePath  string   `json:"archive_path"`
	MetadataPath string   `json:"metadata_path"`
}

// JobError is present only on failed jobs.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

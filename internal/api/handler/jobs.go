package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paybridge/filegen/internal/api/response"
	"github.com/paybridge/filegen/internal/jobs"
	"github.com/paybridge/filegen/internal/stream"
	"github.com/paybridge/filegen/pkg/models"
)

// maxRowsPerJob caps a single submission. Larger files are split by the
// caller into multiple jobs.
const maxRowsPerJob = 10000

// JobService defines the interface the handlers depend on.
type JobService interface {
	Enqueue(ctx context.Context, req models.JobRequest) *models.Job
	Get(id uuid.UUID) (*models.Job, error)
	List() []*models.Job
	Cancel(id uuid.UUID) error
	Subscribe(id uuid.UUID) (*stream.Subscriber, error)
	SweepOnce() int
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/files.
// Submissions at or below syncRowLimit rows are run to completion before
// responding; larger ones are accepted and processed in the background.
func NewSubmitHandler(svc JobService, syncRowLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.JobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if msg := validateRequest(&req); msg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
			return
		}

		job := svc.Enqueue(r.Context(), req)

		if req.Rows > syncRowLimit {
			response.Accepted(w, submitResponse{
				ID:       job.ID.String(),
				State:    job.State,
				Progress: job.Progress,
			})
			return
		}

		// Small jobs complete inline: follow the feed until it closes,
		// then return the terminal document.
		sub, err := svc.Subscribe(job.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		defer sub.Close()

		for {
			select {
			case _, ok := <-sub.Events():
				if !ok {
					final, err := svc.Get(job.ID)
					if err != nil {
						response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
							"An unexpected error occurred", nil)
						return
					}
					response.JSON(w, final)
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}

type submitResponse struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Progress int    `json:"progress"`
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, svc.List())
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		job, err := svc.Get(id)
		if err != nil {
			respondJobError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		if err := svc.Cancel(id); err != nil {
			respondJobError(w, err)
			return
		}

		job, err := svc.Get(id)
		if err != nil {
			respondJobError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewDownloadHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/download. The archive exists only for
// completed jobs.
func NewDownloadHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		job, err := svc.Get(id)
		if err != nil {
			respondJobError(w, err)
			return
		}

		if job.State != models.JobStateCompleted || job.Output == nil {
			response.Error(w, http.StatusNotFound, "ARCHIVE_NOT_READY",
				"No archive is available for this job", nil)
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		http.ServeFile(w, r, job.Output.ArchivePath)
	}
}

// NewSweepHandler returns an http.HandlerFunc for POST /api/v1/admin/sweep.
func NewSweepHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed := svc.SweepOnce()
		response.JSON(w, map[string]any{"removed": removed})
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func respondJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
			"No job exists with that id", nil)
	case errors.Is(err, jobs.ErrNotCancellable):
		response.Error(w, http.StatusConflict, "JOB_NOT_CANCELLABLE",
			"The job has already finished", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func validateRequest(req *models.JobRequest) string {
	if req.Rows < 1 {
		return "rows must be at least 1"
	}
	if req.Rows > maxRowsPerJob {
		return "rows exceeds the per-job maximum"
	}

	if req.ProcessingDate != nil {
		if _, err := time.Parse("2006-01-02", *req.ProcessingDate); err != nil {
			return "processing_date must be formatted YYYY-MM-DD"
		}
	}

	for _, code := range req.AllowedTransactionCodes {
		if !allDigits(code) || len(code) != 2 {
			return "allowed_transaction_codes entries must be two digits"
		}
	}

	if o := req.Originating; o != nil {
		if !allDigits(o.SortCode) || len(o.SortCode) != 6 {
			return "originating.sort_code must be six digits"
		}
		if !allDigits(o.AccountNumber) || len(o.AccountNumber) != 8 {
			return "originating.account_number must be eight digits"
		}
		if o.SUN != "" && (!allDigits(o.SUN) || len(o.SUN) != 6) {
			return "originating.sun must be six digits"
		}
	}

	return ""
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

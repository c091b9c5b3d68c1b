package models

// Event names broadcast on a job's notification feed.
const (
	EventJobPending  = "job-pending"
	EventJobProgress = "job-progress"
	EventJobComplete = "job-complete"
	EventJobFailed   = "job-failed"
	EventEnd         = "end"
)

// JobEvent is one record on a job's live feed. Progress is omitted on the
// terminal end record.
type JobEvent struct {
	Event    string `json:"-"`
	ID       string `json:"id"`
	State    string `json:"state"`
	Progress *int   `json:"progress,omitempty"`
}

// NewJobEvent builds an in-flight event record from a job snapshot.
func NewJobEvent(event string, job *Job) JobEvent {
	p := job.Progress
	return JobEvent{
		Event:    event,
		ID:       job.ID.String(),
		State:    job.State,
		Progress: &p,
	}
}

// NewEndEvent builds the terminal end record for a job.
func NewEndEvent(job *Job) JobEvent {
	return JobEvent{
		Event: EventEnd,
		ID:    job.ID.String(),
		State: job.State,
	}
}

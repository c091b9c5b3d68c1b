// Package stream is the per-job progress notification hub. Each job id is a
// topic; any number of subscribers attach to one job and receive its state
// changes until a terminal event closes their channel.
package stream

import (
	"sync"

	"github.com/google/uuid"
	"github.com/paybridge/filegen/pkg/models"
)

const subscriberBuffer = 16

// Hub multicasts job events to per-job subscriber sets. Safe for concurrent
// use.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[string]*Subscriber // jobID → subscriberID → subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe attaches a new subscriber to the job and immediately delivers the
// given snapshot. If the snapshot is already terminal the subscriber is never
// registered on the topic: it receives the snapshot and the end record and is
// closed before Subscribe returns, so a concurrent PublishTerminal for the
// same job cannot deliver a second end.
func (h *Hub) Subscribe(job *models.Job) *Subscriber {
	sub := &Subscriber{
		id:    uuid.NewString(),
		jobID: job.ID.String(),
		hub:   h,
		ch:    make(chan models.JobEvent, subscriberBuffer),
	}

	if job.Terminal() {
		sub.send(models.NewJobEvent(snapshotEvent(job), job))
		sub.send(models.NewEndEvent(job))
		sub.close()
		return sub
	}

	h.mu.Lock()
	subs, ok := h.topics[sub.jobID]
	if !ok {
		subs = make(map[string]*Subscriber)
		h.topics[sub.jobID] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	sub.send(models.NewJobEvent(snapshotEvent(job), job))
	return sub
}

// Publish delivers an in-flight event to every subscriber of the job.
func (h *Hub) Publish(jobID uuid.UUID, evt models.JobEvent) {
	for _, sub := range h.subscribers(jobID.String()) {
		sub.send(evt)
	}
}

// PublishTerminal delivers the terminal event followed by exactly one end
// record per subscriber, then closes every subscriber and tears the topic
// down.
func (h *Hub) PublishTerminal(jobID uuid.UUID, job *models.Job) {
	id := jobID.String()

	h.mu.Lock()
	subs := h.topics[id]
	delete(h.topics, id)
	h.mu.Unlock()

	terminal := models.NewJobEvent(terminalEvent(job), job)
	end := models.NewEndEvent(job)
	for _, sub := range subs {
		sub.forceSend(terminal)
		sub.forceSend(end)
		sub.close()
	}
}

// SubscriberCount returns the number of live subscribers for a job.
func (h *Hub) SubscriberCount(jobID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[jobID.String()])
}

func (h *Hub) subscribers(jobID string) []*Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[jobID]
	out := make([]*Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

func (h *Hub) detach(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[sub.jobID]
	if !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.topics, sub.jobID)
	}
}

func snapshotEvent(job *models.Job) string {
	switch job.State {
	case models.JobStatePending:
		return models.EventJobPending
	case models.JobStateCompleted:
		return models.EventJobComplete
	case models.JobStateFailed:
		return models.EventJobFailed
	default:
		return models.EventJobProgress
	}
}

func terminalEvent(job *models.Job) string {
	if job.State == models.JobStateCompleted {
		return models.EventJobComplete
	}
	return models.EventJobFailed
}

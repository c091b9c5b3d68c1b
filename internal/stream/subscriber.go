package stream

import (
	"sync"

	"github.com/paybridge/filegen/pkg/models"
)

// Subscriber receives the event feed for a single job. Detaching at any time
// is safe and does not affect the job or other subscribers.
type Subscriber struct {
	id    string
	jobID string
	hub   *Hub
	ch    chan models.JobEvent

	mu     sync.Mutex
	closed bool
}

// Events returns the read-only event channel. It is closed by the hub after
// the terminal end record, or by Close.
func (s *Subscriber) Events() <-chan models.JobEvent {
	return s.ch
}

// Close detaches the subscriber from the hub. Idempotent, and safe to call
// concurrently with the hub closing the subscriber on a terminal event.
func (s *Subscriber) Close() {
	s.hub.detach(s)
	s.close()
}

// send delivers an event without blocking. A subscriber whose buffer is full
// misses the event rather than stalling the pipeline.
func (s *Subscriber) send(evt models.JobEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// forceSend delivers evt even when the buffer is full by evicting the oldest
// buffered record to make room. Terminal and end records go through here: a
// slow subscriber may lose intermediate progress records but always receives
// the terminal pair.
func (s *Subscriber) forceSend(evt models.JobEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- evt:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

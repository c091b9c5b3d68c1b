package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/paybridge/filegen/internal/api/response"
	"github.com/paybridge/filegen/pkg/models"
)

// NewEventsHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/events. It bridges the job's notification feed
// onto a server-sent-events stream: a snapshot record arrives first, then
// progress records, then a terminal record and an end record, after which
// the stream closes.
func NewEventsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		sub, err := svc.Subscribe(id)
		if err != nil {
			respondJobError(w, err)
			return
		}
		defer sub.Close()

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED",
				"The connection does not support streaming", nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case evt, open := <-sub.Events():
				if !open {
					return
				}
				if err := writeSSE(w, evt); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, evt models.JobEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, data)
	return err
}

package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Will-Luck/Docker-Sentinel/internal/events"
	"github.com/Will-Luck/Docker-Sentinel/internal/intent"
)

// handleSSE streams whatever is published on the event bus to a single
// long-lived connection, adapted from the teacher's chunked-flush SSE
// loop. Only the manual-execute handler publishes, with intent-execution
// events.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.deps.Events.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, marshalSSE(evt))
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func marshalSSE(evt events.SSEEvent) string {
	b, err := json.Marshal(evt)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func eventForExecution(summary intent.Summary) events.SSEEvent {
	return events.SSEEvent{
		Type:        events.EventIntentExecution,
		IntentID:    summary.Execution.IntentID,
		ExecutionID: summary.Execution.ID,
		Message:     string(summary.Execution.Status),
		Timestamp:   summary.Execution.StartedAt,
	}
}

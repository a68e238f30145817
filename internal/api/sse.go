package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleSSE streams lifecycle events to the browser as Server-Sent Events.
// Slow clients get ring-buffer semantics from the bus: progress events may be
// dropped, terminal events are also delivered on the priority channel handled
// elsewhere, so the UI can always resynchronize from /runs/active.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondErrorMessage(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	eventCh := s.deps.Bus.Subscribe()
	defer s.deps.Bus.Unsubscribe(eventCh)

	s.logger.Info("sse client connected", "remote_addr", r.RemoteAddr)
	defer s.logger.Info("sse client disconnected", "remote_addr", r.RemoteAddr)

	s.writeFrame(w, flusher, "connected", map[string]string{"status": "connected"})

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-eventCh:
			if !open {
				return
			}
			s.writeFrame(w, flusher, event.EventType(), event)
		}
	}
}

// writeFrame emits one event in SSE framing and flushes it.
func (s *Server) writeFrame(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal sse data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}

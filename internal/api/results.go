package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func (s *Server) handleGetLatestResult(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.engine.Latest()
	if err != nil {
		s.logger.Error("read latest result", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read results")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "no results available")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleStreamResults streams every result appended after the request as a
// server-sent event carrying the record as JSON.
func (s *Server) handleStreamResults(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.engine.Broker().Subscribe()
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				s.logger.Error("encode result event", "error", err)
				continue
			}
			if err := writeSSEEvent(w, "result", string(data)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
// data must not contain newlines.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

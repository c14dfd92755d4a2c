package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter forwards assistant fragments as server-sent events, one
// `data: {"message": "<fragment>"}` frame per fragment.
type sseWriter struct {
	w           http.ResponseWriter
	flusher     http.Flusher
	wroteHeader bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) writeHeader() {
	if s.wroteHeader {
		return
	}
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.wroteHeader = true
}

// WriteFrame emits one frame and flushes it immediately so the client sees the
// fragment without transport buffering.
func (s *sseWriter) WriteFrame(fragment string) error {
	s.writeHeader()
	payload, err := json.Marshal(map[string]string{"message": fragment})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

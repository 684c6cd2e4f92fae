package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillkom/docquery/internal/core/domain"
)

// sseWriter streams query output as server-sent events: one token event per
// generated token, a final event carrying the full answer with sources, then
// a [DONE] marker.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *sseWriter) emit(payload any) error {
	s.start()
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) emitToken(token string) error {
	return s.emit(map[string]string{"token": token})
}

func (s *sseWriter) emitAnswer(answer *domain.Answer) error {
	return s.emit(map[string]any{
		"answer":     answer.Text,
		"sources":    answer.Sources,
		"session_id": answer.SessionID,
	})
}

func (s *sseWriter) emitError(message string) error {
	return s.emit(map[string]string{"error": message})
}

func (s *sseWriter) done() error {
	s.start()
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

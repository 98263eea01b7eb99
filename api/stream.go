package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Streaming event envelope: zero or more token events, then exactly one
// metadata event, or a single error event in place of the final event.
type streamEvent struct {
	Type    string     `json:"type"`
	Content string     `json:"content,omitempty"`
	Data    any        `json:"data,omitempty"`
	Error   *errorInfo `json:"error,omitempty"`
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errorInfo{Code: "VALIDATION_ERROR", Message: "decode request: " + err.Error()})
		return
	}

	// Validate before committing to the SSE response: a bad request should
	// still get a plain 400.
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, http.StatusBadRequest, errorInfo{Code: "VALIDATION_ERROR", Message: "question is required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errorInfo{Code: "UNKNOWN_ERROR", Message: "streaming not supported by this connection"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(token string) error {
		return s.writeEvent(w, flusher, streamEvent{Type: "token", Content: token})
	}

	result, err := s.service.AnswerStream(r.Context(), req.Question, req.ConversationID, emit)
	if err != nil {
		// If the client is gone the write fails silently; otherwise the
		// error event replaces the metadata event.
		_, info := classifyFailure(err)
		s.logger.Printf("stream query failed (%s): %v", info.Code, err)
		_ = s.writeEvent(w, flusher, streamEvent{Type: "error", Error: &info})
		return
	}

	_ = s.writeEvent(w, flusher, streamEvent{Type: "metadata", Data: result})
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, event streamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

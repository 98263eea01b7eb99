// Package api exposes the query pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/clearpath/support-agent/llm"
	"github.com/clearpath/support-agent/pipeline"
	"github.com/clearpath/support-agent/store"
)

// QueryService is the pipeline surface the server needs.
type QueryService interface {
	Answer(ctx context.Context, question, conversationID string) (pipeline.Result, error)
	AnswerStream(ctx context.Context, question, conversationID string, emit func(token string) error) (pipeline.Result, error)
}

// ConversationReader serves conversation history lookups.
type ConversationReader interface {
	Turns(ctx context.Context, conversationID string, limit int) ([]store.Turn, error)
}

const defaultTurnLimit = 50

// Server wires the HTTP handlers around an assembled pipeline.
type Server struct {
	service       QueryService
	conversations ConversationReader
	logger        *log.Logger
	handler       http.Handler
}

func New(service QueryService, conversations ConversationReader, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{service: service, conversations: conversations, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/query/stream", s.handleQueryStream)
	mux.HandleFunc("/conversations/", s.handleConversation)
	return mux
}

type queryRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorInfo `json:"error"`
}

type conversationResponse struct {
	ConversationID string             `json:"conversation_id"`
	Turns          []conversationTurn `json:"turns"`
}

type conversationTurn struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Service: "clearpath-support-agent",
		Version: "1.0.0",
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errorInfo{Code: "VALIDATION_ERROR", Message: "decode request: " + err.Error()})
		return
	}

	result, err := s.service.Answer(r.Context(), req.Question, req.ConversationID)
	if err != nil {
		status, info := classifyFailure(err)
		s.logger.Printf("query failed (%d %s): %v", status, info.Code, err)
		s.writeError(w, status, info)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.conversations == nil {
		s.writeError(w, http.StatusNotFound, errorInfo{Code: "API_ERROR", Message: "conversation store not configured"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/conversations/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	turns, err := s.conversations.Turns(r.Context(), id, defaultTurnLimit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, errorInfo{Code: "API_ERROR", Message: "fetch conversation history failed"})
		s.logger.Printf("conversation lookup failed for %s: %v", id, err)
		return
	}

	resp := conversationResponse{ConversationID: id, Turns: make([]conversationTurn, len(turns))}
	for i, turn := range turns {
		resp.Turns[i] = conversationTurn{Query: turn.Query, Response: turn.Response, Timestamp: turn.Timestamp}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// classifyFailure maps pipeline errors onto HTTP statuses and the boundary
// error taxonomy.
func classifyFailure(err error) (int, errorInfo) {
	if errors.Is(err, pipeline.ErrEmptyQuestion) {
		return http.StatusBadRequest, errorInfo{Code: "VALIDATION_ERROR", Message: "question is required"}
	}

	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		status := http.StatusInternalServerError
		switch llmErr.Code {
		case llm.CodeRateLimit:
			status = http.StatusTooManyRequests
		case llm.CodeAuthentication:
			status = http.StatusUnauthorized
		case llm.CodeTimeout:
			status = http.StatusGatewayTimeout
		case llm.CodeAPI:
			status = http.StatusBadGateway
		}
		return status, errorInfo{Code: llmErr.Code, Message: llmErr.Message, Details: llmErr.Details}
	}

	// Retrieval or other backend failure: report generically, details stay in
	// the server log.
	return http.StatusInternalServerError, errorInfo{Code: "UNKNOWN_ERROR", Message: "internal error while answering the question"}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, errorInfo{Code: "VALIDATION_ERROR", Message: "method not allowed, use " + allowed})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, info errorInfo) {
	s.writeJSON(w, status, errorResponse{Error: info})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

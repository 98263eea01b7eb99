package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clearpath/support-agent/api"
	"github.com/clearpath/support-agent/llm"
	"github.com/clearpath/support-agent/pipeline"
	"github.com/clearpath/support-agent/store"
)

type stubService struct {
	result pipeline.Result
	err    error
	tokens []string
}

func (s *stubService) Answer(ctx context.Context, question, conversationID string) (pipeline.Result, error) {
	if s.err != nil {
		return pipeline.Result{}, s.err
	}
	return s.result, nil
}

func (s *stubService) AnswerStream(ctx context.Context, question, conversationID string, emit func(token string) error) (pipeline.Result, error) {
	for _, token := range s.tokens {
		if err := emit(token); err != nil {
			return pipeline.Result{}, err
		}
	}
	if s.err != nil {
		return pipeline.Result{}, s.err
	}
	return s.result, nil
}

var _ api.QueryService = (*stubService)(nil)

type stubConversations struct {
	turns []store.Turn
	err   error
}

func (s *stubConversations) Turns(ctx context.Context, conversationID string, limit int) ([]store.Turn, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.turns, nil
}

var _ api.ConversationReader = (*stubConversations)(nil)

func newServer(service *stubService, conversations *stubConversations) *api.Server {
	var reader api.ConversationReader
	if conversations != nil {
		reader = conversations
	}
	return api.New(service, reader, log.New(io.Discard, "", 0))
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, body *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v\n%s", err, body.Body.String())
	}
	return resp.Error.Code, resp.Error.Message
}

func TestHandleQuery(t *testing.T) {
	service := &stubService{result: pipeline.Result{
		Answer:         "Refunds take 5 days.",
		ConversationID: "conv_abc",
	}}
	server := newServer(service, nil)

	rec := postJSON(t, server, "/query", `{"question": "Where is my refund?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Answer != "Refunds take 5 days." || result.ConversationID != "conv_abc" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHandleQueryEmptyQuestion(t *testing.T) {
	server := newServer(&stubService{err: pipeline.ErrEmptyQuestion}, nil)

	rec := postJSON(t, server, "/query", `{"question": "  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code, _ := decodeError(t, rec); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestHandleQueryRejectsUnknownFields(t *testing.T) {
	server := newServer(&stubService{}, nil)

	rec := postJSON(t, server, "/query", `{"question": "q", "bogus": true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleQueryMethodNotAllowed(t *testing.T) {
	server := newServer(&stubService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", allow)
	}
}

func TestHandleQueryErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"rate limit", &llm.Error{Code: llm.CodeRateLimit, Message: "slow down"}, http.StatusTooManyRequests, llm.CodeRateLimit},
		{"auth", &llm.Error{Code: llm.CodeAuthentication, Message: "bad key"}, http.StatusUnauthorized, llm.CodeAuthentication},
		{"timeout", &llm.Error{Code: llm.CodeTimeout, Message: "timed out"}, http.StatusGatewayTimeout, llm.CodeTimeout},
		{"api", &llm.Error{Code: llm.CodeAPI, Message: "bad gateway"}, http.StatusBadGateway, llm.CodeAPI},
		{"unknown", errors.New("index down"), http.StatusInternalServerError, "UNKNOWN_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newServer(&stubService{err: tc.err}, nil)

			rec := postJSON(t, server, "/query", `{"question": "q"}`)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			code, message := decodeError(t, rec)
			if code != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, code)
			}
			if message == "" {
				t.Fatal("error message must not be empty")
			}
		})
	}
}

func TestHandleQueryInternalErrorsStayGeneric(t *testing.T) {
	server := newServer(&stubService{err: errors.New("pgx: connection refused to 10.0.0.5")}, nil)

	rec := postJSON(t, server, "/query", `{"question": "q"}`)
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Fatalf("backend details must not leak to clients: %s", rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	server := newServer(&stubService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
}

func TestHandleConversation(t *testing.T) {
	conversations := &stubConversations{turns: []store.Turn{
		{Query: "hi", Response: "Hello!", Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}}
	server := newServer(&stubService{}, conversations)

	req := httptest.NewRequest(http.MethodGet, "/conversations/conv_abc", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ConversationID string `json:"conversation_id"`
		Turns          []struct {
			Query    string `json:"query"`
			Response string `json:"response"`
		} `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ConversationID != "conv_abc" || len(resp.Turns) != 1 || resp.Turns[0].Query != "hi" {
		t.Fatalf("unexpected conversation response: %+v", resp)
	}
}

func TestHandleConversationRejectsNestedPaths(t *testing.T) {
	server := newServer(&stubService{}, &stubConversations{})

	for _, path := range []string{"/conversations/", "/conversations/a/b"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("path %s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestHandleQueryStream(t *testing.T) {
	service := &stubService{
		tokens: []string{"Refunds ", "take ", "5 days."},
		result: pipeline.Result{Answer: "Refunds take 5 days.", ConversationID: "conv_abc"},
	}
	server := newServer(service, nil)

	rec := postJSON(t, server, "/query/stream", `{"question": "Where is my refund?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	events := parseEvents(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("expected 3 token events plus metadata, got %d: %s", len(events), rec.Body.String())
	}
	var text strings.Builder
	for _, ev := range events[:3] {
		if ev.Type != "token" {
			t.Fatalf("expected token event, got %+v", ev)
		}
		text.WriteString(ev.Content)
	}
	if text.String() != "Refunds take 5 days." {
		t.Fatalf("unexpected streamed text: %q", text.String())
	}
	if events[3].Type != "metadata" {
		t.Fatalf("expected terminal metadata event, got %+v", events[3])
	}
}

func TestHandleQueryStreamEmptyQuestionIsPlain400(t *testing.T) {
	server := newServer(&stubService{}, nil)

	rec := postJSON(t, server, "/query/stream", `{"question": "   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("validation failures must not switch to SSE, got %q", ct)
	}
}

func TestHandleQueryStreamErrorEvent(t *testing.T) {
	service := &stubService{
		tokens: []string{"partial "},
		err:    &llm.Error{Code: llm.CodeRateLimit, Message: "slow down"},
	}
	server := newServer(service, nil)

	rec := postJSON(t, server, "/query/stream", `{"question": "q"}`)
	events := parseEvents(t, rec.Body.String())

	last := events[len(events)-1]
	if last.Type != "error" {
		t.Fatalf("expected terminal error event, got %+v", last)
	}
	if last.Error == nil || last.Error.Code != llm.CodeRateLimit {
		t.Fatalf("unexpected error payload: %+v", last.Error)
	}
	for _, ev := range events {
		if ev.Type == "metadata" {
			t.Fatal("failed streams must not emit metadata")
		}
	}
}

type parsedEvent struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseEvents(t *testing.T, body string) []parsedEvent {
	t.Helper()
	var events []parsedEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		payload, ok := strings.CutPrefix(block, "data: ")
		if !ok {
			t.Fatalf("malformed SSE block: %q", block)
		}
		var ev parsedEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("decode event %q: %v", payload, err)
		}
		events = append(events, ev)
	}
	return events
}

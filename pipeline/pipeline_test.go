package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/clearpath/support-agent/declog"
	"github.com/clearpath/support-agent/evaluator"
	"github.com/clearpath/support-agent/llm"
	"github.com/clearpath/support-agent/pipeline"
	"github.com/clearpath/support-agent/router"
	"github.com/clearpath/support-agent/store"
)

type stubRetriever struct {
	chunks []store.ScoredChunk
	err    error
	calls  int
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string) ([]store.ScoredChunk, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.chunks, nil
}

var _ pipeline.Retriever = (*stubRetriever)(nil)

type stubGenerator struct {
	result llm.Result
	err    error
	prompt string
	model  string
}

func (s *stubGenerator) Generate(ctx context.Context, model, prompt string, maxTokens int) (llm.Result, error) {
	s.prompt = prompt
	s.model = model
	if s.err != nil {
		return llm.Result{}, s.err
	}
	return s.result, nil
}

var _ llm.Client = (*stubGenerator)(nil)

type stubStreamGenerator struct {
	stubGenerator
	tokens    []string
	streamErr error
}

func (s *stubStreamGenerator) GenerateStream(ctx context.Context, model, prompt string, maxTokens int, fn func(token string) error) (llm.Result, error) {
	s.prompt = prompt
	s.model = model
	for _, token := range s.tokens {
		if err := fn(token); err != nil {
			return llm.Result{}, err
		}
	}
	if s.streamErr != nil {
		return llm.Result{}, s.streamErr
	}
	return s.result, nil
}

var _ llm.StreamClient = (*stubStreamGenerator)(nil)

type stubConversations struct {
	getErr     error
	historyErr error
	history    string
	turns      int
	lastTurn   [2]string
}

func (s *stubConversations) GetOrCreate(ctx context.Context, id string) (store.Conversation, error) {
	if s.getErr != nil {
		return store.Conversation{}, s.getErr
	}
	if id == "" {
		id = "conv_new"
	}
	return store.Conversation{ID: id}, nil
}

func (s *stubConversations) Context(ctx context.Context, id string, maxTurns int) (string, error) {
	if s.historyErr != nil {
		return "", s.historyErr
	}
	return s.history, nil
}

func (s *stubConversations) AddTurn(ctx context.Context, id, query, response string) error {
	s.turns++
	s.lastTurn = [2]string{query, response}
	return nil
}

var _ pipeline.ConversationStore = (*stubConversations)(nil)

type stubDecisions struct {
	records []declog.Record
	err     error
}

func (s *stubDecisions) Log(rec declog.Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

var _ pipeline.DecisionLogger = (*stubDecisions)(nil)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func chunk(doc string, page int, text string, score float64) store.ScoredChunk {
	return store.ScoredChunk{
		Chunk:          store.Chunk{ID: doc + "_1_0", Text: text, DocumentName: doc, PageNumber: page},
		RelevanceScore: score,
	}
}

func newService(deps pipeline.Deps) *pipeline.Service {
	if deps.Classifier == nil {
		deps.Classifier = router.New(router.Options{SimpleModel: "simple-model", ComplexModel: "complex-model"})
	}
	if deps.Evaluator == nil {
		deps.Evaluator = evaluator.New()
	}
	deps.Logger = log.New(io.Discard, "", 0)
	return pipeline.NewService(deps, pipeline.Options{MaxOutputTokens: 100, MaxHistoryTurns: 3})
}

func TestAnswerFullPipeline(t *testing.T) {
	retriever := &stubRetriever{chunks: []store.ScoredChunk{
		chunk("guide.pdf", 3, "Refunds take 5 business days.", 0.91),
	}}
	generator := &stubGenerator{result: llm.Result{
		Text:         "Refunds take 5 business days.",
		TokensInput:  120,
		TokensOutput: 18,
		LatencyMS:    250,
		ModelUsed:    "simple-model",
	}}
	conversations := &stubConversations{history: "Previous Q: what plans exist?\nPrevious A: Free and Pro."}
	decisions := &stubDecisions{}

	svc := newService(pipeline.Deps{
		Retriever:     retriever,
		Generator:     generator,
		Conversations: conversations,
		Decisions:     decisions,
		TokenCounter:  wordCounter{},
	})

	result, err := svc.Answer(context.Background(), "Where do I find my refund status", "conv_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Answer != "Refunds take 5 business days." {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
	if result.ConversationID != "conv_abc" {
		t.Fatalf("unexpected conversation id: %q", result.ConversationID)
	}
	if result.Metadata.Classification != "simple" || result.Metadata.ModelUsed != "simple-model" {
		t.Fatalf("unexpected metadata: %+v", result.Metadata)
	}
	if result.Metadata.ChunksRetrieved != 1 || len(result.Sources) != 1 {
		t.Fatalf("expected one source, got %+v", result)
	}
	if result.Sources[0].Document != "guide.pdf" || result.Sources[0].Page != 3 {
		t.Fatalf("unexpected source: %+v", result.Sources[0])
	}

	// Evidence and history must both reach the generator.
	if !strings.Contains(generator.prompt, "Refunds take 5 business days.") {
		t.Fatal("evidence missing from prompt")
	}
	if !strings.Contains(generator.prompt, "Previous Q: what plans exist?") {
		t.Fatal("history missing from prompt")
	}

	if conversations.turns != 1 {
		t.Fatalf("expected one persisted turn, got %d", conversations.turns)
	}
	if conversations.lastTurn[1] != result.Answer {
		t.Fatalf("persisted response mismatch: %q", conversations.lastTurn[1])
	}

	if len(decisions.records) != 1 {
		t.Fatalf("expected one decision record, got %d", len(decisions.records))
	}
	rec := decisions.records[0]
	if rec.Query != "Where do I find my refund status" || rec.RuleTriggered != router.RuleDefault {
		t.Fatalf("unexpected decision record: %+v", rec)
	}
	if rec.TokensInput != 120 || rec.TokensOutput != 18 || rec.ChunksRetrieved != 1 {
		t.Fatalf("unexpected usage in decision record: %+v", rec)
	}
	if rec.ContextTokens == 0 || rec.SystemPromptTokens == 0 {
		t.Fatalf("expected token estimates, got %+v", rec)
	}
}

func TestAnswerSkipsRetrievalForGreetings(t *testing.T) {
	retriever := &stubRetriever{}
	generator := &stubGenerator{result: llm.Result{Text: "Hello! How can I help with ClearPath today?", ModelUsed: "simple-model"}}
	decisions := &stubDecisions{}

	svc := newService(pipeline.Deps{
		Retriever:     retriever,
		Generator:     generator,
		Conversations: &stubConversations{},
		Decisions:     decisions,
	})

	result, err := svc.Answer(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retriever.calls != 0 {
		t.Fatal("greeting must not hit the retriever")
	}
	if result.Metadata.ChunksRetrieved != 0 || len(result.Sources) != 0 {
		t.Fatalf("expected no sources for a greeting, got %+v", result)
	}
	if decisions.records[0].RuleTriggered != router.RuleOODFilter {
		t.Fatalf("expected ood_filter in decision record, got %+v", decisions.records[0])
	}
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	retriever := &stubRetriever{}
	svc := newService(pipeline.Deps{
		Retriever: retriever,
		Generator: &stubGenerator{},
	})

	if _, err := svc.Answer(context.Background(), "   ", ""); !errors.Is(err, pipeline.ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
	if retriever.calls != 0 {
		t.Fatal("validation must run before any pipeline stage")
	}
}

func TestAnswerDegradesWhenConversationStoreFails(t *testing.T) {
	conversations := &stubConversations{getErr: errors.New("postgres down")}
	svc := newService(pipeline.Deps{
		Retriever:     &stubRetriever{},
		Generator:     &stubGenerator{result: llm.Result{Text: "answer"}},
		Conversations: conversations,
	})

	result, err := svc.Answer(context.Background(), "Where are my invoices", "conv_abc")
	if err != nil {
		t.Fatalf("history failure must not fail the request: %v", err)
	}
	if !strings.HasPrefix(result.ConversationID, "conv_") || result.ConversationID == "conv_abc" {
		t.Fatalf("expected a fresh conversation id, got %q", result.ConversationID)
	}
	if conversations.turns != 0 {
		t.Fatal("must not persist turns to a store that failed")
	}
}

func TestAnswerDegradesWhenHistoryFetchFails(t *testing.T) {
	conversations := &stubConversations{historyErr: errors.New("query timeout")}
	generator := &stubGenerator{result: llm.Result{Text: "answer"}}
	svc := newService(pipeline.Deps{
		Retriever:     &stubRetriever{},
		Generator:     generator,
		Conversations: conversations,
	})

	if _, err := svc.Answer(context.Background(), "Where are my invoices", "conv_abc"); err != nil {
		t.Fatalf("history failure must not fail the request: %v", err)
	}
	if strings.Contains(generator.prompt, "Previous Q:") {
		t.Fatal("prompt must not carry history after a fetch failure")
	}
	if conversations.turns != 1 {
		t.Fatal("turn persistence still applies when only the history fetch failed")
	}
}

func TestAnswerPropagatesRetrievalError(t *testing.T) {
	wantErr := errors.New("index unavailable")
	decisions := &stubDecisions{}
	svc := newService(pipeline.Deps{
		Retriever: &stubRetriever{err: wantErr},
		Generator: &stubGenerator{},
		Decisions: decisions,
	})

	if _, err := svc.Answer(context.Background(), "Where are my invoices", ""); !errors.Is(err, wantErr) {
		t.Fatalf("expected retrieval error, got %v", err)
	}
	if len(decisions.records) != 0 {
		t.Fatal("failed requests must not be logged")
	}
}

func TestAnswerPropagatesGenerationError(t *testing.T) {
	wantErr := &llm.Error{Code: llm.CodeRateLimit, Message: "rate limited"}
	conversations := &stubConversations{}
	decisions := &stubDecisions{}
	svc := newService(pipeline.Deps{
		Retriever:     &stubRetriever{},
		Generator:     &stubGenerator{err: wantErr},
		Conversations: conversations,
		Decisions:     decisions,
	})

	_, err := svc.Answer(context.Background(), "Where are my invoices", "")
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) || llmErr.Code != llm.CodeRateLimit {
		t.Fatalf("expected llm error to propagate, got %v", err)
	}
	if conversations.turns != 0 || len(decisions.records) != 0 {
		t.Fatal("failed generation must not persist or log")
	}
}

func TestAnswerStreamForwardsTokens(t *testing.T) {
	generator := &stubStreamGenerator{
		tokens: []string{"Refunds ", "take ", "5 days."},
	}
	generator.result = llm.Result{Text: "Refunds take 5 days.", ModelUsed: "simple-model"}
	decisions := &stubDecisions{}

	svc := newService(pipeline.Deps{
		Retriever:     &stubRetriever{},
		Generator:     generator,
		Conversations: &stubConversations{},
		Decisions:     decisions,
	})

	var streamed []string
	result, err := svc.AnswerStream(context.Background(), "Where is my refund", "", func(token string) error {
		streamed = append(streamed, token)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(streamed, "") != "Refunds take 5 days." {
		t.Fatalf("unexpected streamed tokens: %v", streamed)
	}
	if result.Answer != "Refunds take 5 days." {
		t.Fatalf("unexpected final answer: %q", result.Answer)
	}
	if len(decisions.records) != 1 {
		t.Fatalf("expected one decision record after the stream, got %d", len(decisions.records))
	}
}

func TestAnswerStreamDiscardsPartialWorkOnError(t *testing.T) {
	generator := &stubStreamGenerator{
		tokens:    []string{"partial "},
		streamErr: errors.New("stream interrupted"),
	}
	conversations := &stubConversations{}
	decisions := &stubDecisions{}

	svc := newService(pipeline.Deps{
		Retriever:     &stubRetriever{},
		Generator:     generator,
		Conversations: conversations,
		Decisions:     decisions,
	})

	if _, err := svc.AnswerStream(context.Background(), "Where is my refund", "", func(string) error { return nil }); err == nil {
		t.Fatal("expected stream error")
	}
	if conversations.turns != 0 || len(decisions.records) != 0 {
		t.Fatal("interrupted streams must discard partial work")
	}
}

func TestAnswerStreamFallsBackToSingleEmit(t *testing.T) {
	generator := &stubGenerator{result: llm.Result{Text: "full answer"}}
	svc := newService(pipeline.Deps{
		Retriever:     &stubRetriever{},
		Generator:     generator,
		Conversations: &stubConversations{},
	})

	var streamed []string
	result, err := svc.AnswerStream(context.Background(), "Where is my refund", "", func(token string) error {
		streamed = append(streamed, token)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(streamed) != 1 || streamed[0] != "full answer" {
		t.Fatalf("expected one emit with the full text, got %v", streamed)
	}
	if result.Answer != "full answer" {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
}

// Package pipeline sequences the query pipeline: classify, retrieve, assemble
// the prompt, generate, evaluate, log. Each request moves strictly forward
// through those stages; requests are independent and the service holds no
// mutable per-request state.
package pipeline

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/clearpath/support-agent/declog"
	"github.com/clearpath/support-agent/evaluator"
	"github.com/clearpath/support-agent/llm"
	"github.com/clearpath/support-agent/prompt"
	"github.com/clearpath/support-agent/router"
	"github.com/clearpath/support-agent/store"
	"github.com/clearpath/support-agent/tokens"
)

// ErrEmptyQuestion rejects requests before any pipeline stage runs.
var ErrEmptyQuestion = errors.New("question cannot be empty")

// Retriever produces the evidence set for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]store.ScoredChunk, error)
}

// ConversationStore persists multi-turn history. Failures here are
// non-critical: the pipeline degrades to an empty history rather than failing
// the request.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, id string) (store.Conversation, error)
	Context(ctx context.Context, id string, maxTurns int) (string, error)
	AddTurn(ctx context.Context, id, query, response string) error
}

// DecisionLogger receives one record per completed request.
type DecisionLogger interface {
	Log(rec declog.Record) error
}

type Deps struct {
	Classifier    *router.Router
	Retriever     Retriever
	Generator     llm.Client
	Conversations ConversationStore
	Evaluator     *evaluator.Evaluator
	Decisions     DecisionLogger
	TokenCounter  tokens.Counter
	Logger        *log.Logger
}

type Options struct {
	MaxOutputTokens int
	MaxHistoryTurns int
}

type Service struct {
	deps Deps
	opts Options
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Evaluator == nil {
		deps.Evaluator = evaluator.New()
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 500
	}
	return &Service{deps: deps, opts: opts}
}

// Source identifies one evidence passage that grounded the answer.
type Source struct {
	Document       string  `json:"document"`
	Page           int     `json:"page"`
	RelevanceScore float64 `json:"relevance_score"`
}

type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

type Metadata struct {
	ModelUsed       string     `json:"model_used"`
	Classification  string     `json:"classification"`
	Tokens          TokenUsage `json:"tokens"`
	LatencyMS       int64      `json:"latency_ms"`
	ChunksRetrieved int        `json:"chunks_retrieved"`
	EvaluatorFlags  []string   `json:"evaluator_flags"`
}

type Result struct {
	Answer         string   `json:"answer"`
	Metadata       Metadata `json:"metadata"`
	Sources        []Source `json:"sources"`
	ConversationID string   `json:"conversation_id"`
}

// prepared carries the state shared by the streaming and non-streaming entry
// points: everything up to (but excluding) generation.
type prepared struct {
	question       string
	conversationID string
	persist        bool
	classification router.Classification
	chunks         []store.ScoredChunk
	history        string
	prompt         string
}

// Answer runs the full pipeline for one question and returns the answer with
// its provenance metadata.
func (s *Service) Answer(ctx context.Context, question, conversationID string) (Result, error) {
	p, err := s.prepare(ctx, question, conversationID)
	if err != nil {
		return Result{}, err
	}

	gen, err := s.deps.Generator.Generate(ctx, p.classification.Model, p.prompt, s.opts.MaxOutputTokens)
	if err != nil {
		return Result{}, err
	}

	return s.finish(ctx, p, gen), nil
}

// AnswerStream runs the same pipeline but forwards generation output through
// emit as it arrives. Evaluation, turn persistence, and decision logging
// happen only after the stream completes; if generation fails or the caller
// cancels mid-stream, the partial answer is discarded and nothing is logged.
func (s *Service) AnswerStream(ctx context.Context, question, conversationID string, emit func(token string) error) (Result, error) {
	p, err := s.prepare(ctx, question, conversationID)
	if err != nil {
		return Result{}, err
	}

	var gen llm.Result
	if streamer, ok := s.deps.Generator.(llm.StreamClient); ok {
		gen, err = streamer.GenerateStream(ctx, p.classification.Model, p.prompt, s.opts.MaxOutputTokens, emit)
	} else {
		gen, err = s.deps.Generator.Generate(ctx, p.classification.Model, p.prompt, s.opts.MaxOutputTokens)
		if err == nil {
			err = emit(gen.Text)
		}
	}
	if err != nil {
		return Result{}, err
	}

	return s.finish(ctx, p, gen), nil
}

func (s *Service) prepare(ctx context.Context, question, conversationID string) (prepared, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return prepared{}, ErrEmptyQuestion
	}

	p := prepared{question: question}

	if s.deps.Conversations != nil {
		conv, err := s.deps.Conversations.GetOrCreate(ctx, conversationID)
		if err != nil {
			s.deps.Logger.Printf("conversation store unavailable, continuing without history: %v", err)
			p.conversationID = store.NewConversationID()
		} else {
			p.conversationID = conv.ID
			p.persist = true
		}
	} else {
		p.conversationID = store.NewConversationID()
	}

	p.classification = s.deps.Classifier.Classify(question)

	if !p.classification.SkipRetrieval {
		chunks, err := s.deps.Retriever.Retrieve(ctx, question)
		if err != nil {
			return prepared{}, err
		}
		p.chunks = chunks
	}

	if p.persist && s.opts.MaxHistoryTurns > 0 {
		history, err := s.deps.Conversations.Context(ctx, p.conversationID, s.opts.MaxHistoryTurns)
		if err != nil {
			s.deps.Logger.Printf("history fetch failed for %s, proceeding without: %v", p.conversationID, err)
			history = ""
		}
		p.history = history
	}

	contexts := make([]string, len(p.chunks))
	for i, chunk := range p.chunks {
		contexts[i] = chunk.Chunk.Text
	}
	p.prompt = prompt.Build(question, contexts, p.history)

	return p, nil
}

// finish runs the post-generation stages. These are best-effort: persistence
// or logging failures are reported in the server log but never fail a request
// that already has an answer.
func (s *Service) finish(ctx context.Context, p prepared, gen llm.Result) Result {
	answer := strings.TrimSpace(gen.Text)

	flags := s.deps.Evaluator.Evaluate(answer, len(p.chunks), p.chunks)
	flagNames := make([]string, len(flags))
	for i, f := range flags {
		flagNames[i] = string(f)
	}

	if p.persist {
		if err := s.deps.Conversations.AddTurn(ctx, p.conversationID, p.question, answer); err != nil {
			s.deps.Logger.Printf("persist turn failed for %s: %v", p.conversationID, err)
		}
	}

	if s.deps.Decisions != nil {
		contextTokens, systemTokens := s.tokenEstimates(p)
		rec := declog.Record{
			Query:              p.question,
			Classification:     string(p.classification.Category),
			ModelUsed:          gen.ModelUsed,
			RuleTriggered:      p.classification.RuleTriggered,
			Reasoning:          p.classification.Reasoning,
			ComplexityScore:    p.classification.Score,
			TokensInput:        gen.TokensInput,
			TokensOutput:       gen.TokensOutput,
			LatencyMS:          gen.LatencyMS,
			ChunksRetrieved:    len(p.chunks),
			EvaluatorFlags:     flagNames,
			SystemPromptTokens: systemTokens,
			ContextTokens:      contextTokens,
		}
		if err := s.deps.Decisions.Log(rec); err != nil {
			s.deps.Logger.Printf("decision log append failed: %v", err)
		}
	}

	sources := make([]Source, len(p.chunks))
	for i, chunk := range p.chunks {
		sources[i] = Source{
			Document:       chunk.Chunk.DocumentName,
			Page:           chunk.Chunk.PageNumber,
			RelevanceScore: chunk.RelevanceScore,
		}
	}

	return Result{
		Answer: answer,
		Metadata: Metadata{
			ModelUsed:       gen.ModelUsed,
			Classification:  string(p.classification.Category),
			Tokens:          TokenUsage{Input: gen.TokensInput, Output: gen.TokensOutput},
			LatencyMS:       gen.LatencyMS,
			ChunksRetrieved: len(p.chunks),
			EvaluatorFlags:  flagNames,
		},
		Sources:        sources,
		ConversationID: p.conversationID,
	}
}

// tokenEstimates splits the prompt's token count into evidence context versus
// everything else, for cost accounting in the decision log.
func (s *Service) tokenEstimates(p prepared) (contextTokens, systemTokens int) {
	if s.deps.TokenCounter == nil {
		return 0, 0
	}
	for _, chunk := range p.chunks {
		contextTokens += s.deps.TokenCounter.Count(chunk.Chunk.Text)
	}
	systemTokens = s.deps.TokenCounter.Count(p.prompt) - contextTokens
	if systemTokens < 0 {
		systemTokens = 0
	}
	return contextTokens, systemTokens
}

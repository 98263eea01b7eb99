// Package declog appends one structured record per handled query to a JSONL
// file. The log is the audit trail for routing decisions: every record holds
// enough signal to replay why a query got the model and evidence it did.
package declog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clearpath/support-agent/router"
)

// Record is one routing decision. Field names match the JSONL schema consumed
// by the evaluation harness.
type Record struct {
	Timestamp          time.Time              `json:"timestamp"`
	Query              string                 `json:"query"`
	Classification     string                 `json:"classification"`
	ModelUsed          string                 `json:"model_used"`
	RuleTriggered      string                 `json:"rule_triggered"`
	Reasoning          string                 `json:"reasoning"`
	ComplexityScore    router.ComplexityScore `json:"complexity_score"`
	TokensInput        int                    `json:"tokens_input"`
	TokensOutput       int                    `json:"tokens_output"`
	LatencyMS          int64                  `json:"latency_ms"`
	ChunksRetrieved    int                    `json:"chunks_retrieved"`
	EvaluatorFlags     []string               `json:"evaluator_flags"`
	SystemPromptTokens int                    `json:"system_prompt_tokens"`
	ContextTokens      int                    `json:"context_tokens"`
}

// Logger writes records to an append-only JSONL file. Safe for concurrent use
// from multiple in-flight requests.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// Open creates the log file (and parent directories) if needed and opens it
// for appending.
func Open(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create decision log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	return &Logger{file: file, enc: json.NewEncoder(file)}, nil
}

// Log appends one record. A zero Timestamp is filled with the current time.
func (l *Logger) Log(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.EvaluatorFlags == nil {
		rec.EvaluatorFlags = []string{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(rec); err != nil {
		return fmt.Errorf("append decision record: %w", err)
	}
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

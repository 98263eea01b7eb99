package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConversationStore persists conversations and their turns. Reads for
// a conversation id observe prior writes for the same id (single Postgres
// backend), which is all the pipeline needs for multi-turn context.
type PostgresConversationStore struct {
	pool *pgxpool.Pool
}

func NewPostgresConversationStore(pool *pgxpool.Pool) *PostgresConversationStore {
	return &PostgresConversationStore{pool: pool}
}

// NewConversationID generates an id in the conv_<12 hex> form used across the
// API and the decision log.
func NewConversationID() string {
	return "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// GetOrCreate returns the existing conversation, or creates a fresh one when
// the id is empty or unknown.
func (s *PostgresConversationStore) GetOrCreate(ctx context.Context, id string) (Conversation, error) {
	if id != "" {
		var conv Conversation
		err := s.pool.QueryRow(ctx, "SELECT id, created_at FROM conversations WHERE id = $1", id).
			Scan(&conv.ID, &conv.CreatedAt)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, fmt.Errorf("lookup conversation %s: %w", id, err)
		}
	}

	conv := Conversation{ID: NewConversationID()}
	err := s.pool.QueryRow(ctx, `
        INSERT INTO conversations (id) VALUES ($1) RETURNING created_at
    `, conv.ID).Scan(&conv.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// AddTurn appends a query/response pair to the conversation history.
func (s *PostgresConversationStore) AddTurn(ctx context.Context, conversationID, query, response string) error {
	if _, err := s.pool.Exec(ctx, `
        INSERT INTO turns (conversation_id, query, response) VALUES ($1, $2, $3)
    `, conversationID, query, response); err != nil {
		return fmt.Errorf("add turn to conversation %s: %w", conversationID, err)
	}
	return nil
}

// Turns returns the most recent turns in chronological order.
func (s *PostgresConversationStore) Turns(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT query, response, created_at FROM (
            SELECT query, response, created_at
            FROM turns
            WHERE conversation_id = $1
            ORDER BY created_at DESC, id DESC
            LIMIT $2
        ) recent
        ORDER BY created_at ASC
    `, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.Query, &turn.Response, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return turns, nil
}

// Context formats the most recent turns for inclusion in a generation prompt.
func (s *PostgresConversationStore) Context(ctx context.Context, conversationID string, maxTurns int) (string, error) {
	turns, err := s.Turns(ctx, conversationID, maxTurns)
	if err != nil {
		return "", err
	}
	return FormatTurns(turns), nil
}

// FormatTurns renders turns as alternating Previous Q/A lines.
func FormatTurns(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, turn := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Previous Q: ")
		sb.WriteString(turn.Query)
		sb.WriteString("\nPrevious A: ")
		sb.WriteString(turn.Response)
	}
	return sb.String()
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresChunkStore stores embedded chunks in Postgres and answers cosine
// similarity searches through pgvector.
type PostgresChunkStore struct {
	pool *pgxpool.Pool
}

func NewPostgresChunkStore(pool *pgxpool.Pool) *PostgresChunkStore {
	return &PostgresChunkStore{pool: pool}
}

// Search returns up to limit chunks ordered by descending relevance. The
// score maps cosine distance into [0, 1] so retrieval thresholds apply
// uniformly regardless of the embedding backend.
func (s *PostgresChunkStore) Search(ctx context.Context, embedding []float32, limit int) ([]ScoredChunk, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if limit <= 0 {
		limit = 5
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := limit * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
        SELECT
            id,
            content,
            document_name,
            page_number,
            token_count,
            COALESCE(context_header, ''),
            (embedding <=> $1::vector) AS distance
        FROM chunks
        ORDER BY embedding <=> $1::vector
        LIMIT $2
    `, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredChunk, 0, limit)
	for rows.Next() {
		var item ScoredChunk
		var distance float64
		if scanErr := rows.Scan(
			&item.Chunk.ID,
			&item.Chunk.Text,
			&item.Chunk.DocumentName,
			&item.Chunk.PageNumber,
			&item.Chunk.TokenCount,
			&item.Chunk.ContextHeader,
			&distance,
		); scanErr != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", scanErr)
		}
		item.RelevanceScore = 1 - distance
		results = append(results, item)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return results, nil
}

// DocumentChanged reports whether the document's content hash differs from
// the one stored by the last successful ingestion. Read-only: the new hash is
// only recorded by ReplaceChunks, so a failed ingest leaves the document
// eligible for retry.
func (s *PostgresChunkStore) DocumentChanged(ctx context.Context, doc Document) (bool, error) {
	var previous string
	err := s.pool.QueryRow(ctx, "SELECT sha256 FROM documents WHERE name = $1", doc.Name).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup document %s: %w", doc.Name, err)
	}
	return previous != doc.SHA256, nil
}

// ReplaceChunks records the document's content hash and swaps its stored
// chunks for the provided set in one transaction, so the hash never outlives
// a failed chunk write.
func (s *PostgresChunkStore) ReplaceChunks(ctx context.Context, doc Document, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var documentID string
	if err = tx.QueryRow(ctx, `
        INSERT INTO documents (id, name, sha256)
        VALUES ($1, $2, $3)
        ON CONFLICT (name) DO UPDATE
            SET sha256 = EXCLUDED.sha256, updated_at = NOW()
        RETURNING id
    `, doc.ID, doc.Name, doc.SHA256).Scan(&documentID); err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.Name, err)
	}

	if _, err = tx.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", documentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	for i, chunk := range chunks {
		var header any
		if chunk.ContextHeader != "" {
			header = chunk.ContextHeader
		}
		if _, err = tx.Exec(ctx, `
            INSERT INTO chunks (id, document_id, document_name, page_number, chunk_index, token_count, context_header, content, embedding)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        `, chunk.ID, documentID, chunk.DocumentName, chunk.PageNumber, i, chunk.TokenCount, header, chunk.Text, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

// Clear removes all ingested documents and chunks.
func (s *PostgresChunkStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE chunks, documents"); err != nil {
		return fmt.Errorf("truncate chunk tables: %w", err)
	}
	return nil
}

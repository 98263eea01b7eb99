package store

import "time"

// Chunk is one retrievable passage produced at ingestion time. Chunks are
// immutable once written; the ID encodes document, page, and position.
type Chunk struct {
	ID            string
	Text          string
	DocumentName  string
	PageNumber    int
	TokenCount    int
	ContextHeader string
}

// ScoredChunk pairs a chunk with its relevance score for one query.
// Scores are normalized to [0, 1]; higher is more relevant.
type ScoredChunk struct {
	Chunk          Chunk
	RelevanceScore float64
}

type Document struct {
	ID     string
	Name   string
	SHA256 string
}

type Conversation struct {
	ID        string
	CreatedAt time.Time
}

type Turn struct {
	Query     string
	Response  string
	Timestamp time.Time
}

package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/clearpath/support-agent/embeddings"
	"github.com/clearpath/support-agent/store"
	"github.com/clearpath/support-agent/tokens"
)

const embedBatchSize = 32

// ChunkStore is the storage surface ingestion writes to. DocumentChanged is a
// read-only hash comparison; ReplaceChunks records the new hash together with
// the chunks, so a failed ingest never marks a document as done.
type ChunkStore interface {
	DocumentChanged(ctx context.Context, doc store.Document) (bool, error)
	ReplaceChunks(ctx context.Context, doc store.Document, chunks []store.Chunk, vectors [][]float32) error
}

type Options struct {
	ChunkTokens   int
	OverlapTokens int
}

// Service loads PDF documentation, chunks it, embeds the chunks, and stores
// them for retrieval.
type Service struct {
	chunks   ChunkStore
	embedder embeddings.Embedder
	chunker  *Chunker
	logger   *log.Logger
}

func NewService(chunks ChunkStore, embedder embeddings.Embedder, counter tokens.Counter, logger *log.Logger, opts Options) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		chunks:   chunks,
		embedder: embedder,
		chunker:  NewChunker(counter, opts.ChunkTokens, opts.OverlapTokens),
		logger:   logger,
	}
}

// IngestDirectory processes every PDF under dir. A corrupted file is logged
// and skipped; it never aborts the run.
func (s *Service) IngestDirectory(ctx context.Context, dir string) error {
	if s.embedder == nil {
		return fmt.Errorf("embedder not configured")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}

	var paths []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".pdf") {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk data directory: %w", err)
	}

	if len(paths) == 0 {
		s.logger.Printf("no pdf files found in %s", dir)
		return nil
	}

	for _, path := range paths {
		if err := s.IngestFile(ctx, path); err != nil {
			s.logger.Printf("ingest failed for %s: %v", path, err)
		}
	}
	return nil
}

// IngestFile loads, chunks, embeds, and stores one document. Unchanged
// documents (by content hash) are skipped. The hash is committed in the same
// transaction as the chunks: a parse or embed failure leaves the stored state
// untouched and the document retried on the next run.
func (s *Service) IngestFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	hash := sha256.Sum256(data)

	name := filepath.Base(path)
	doc := store.Document{
		ID:     uuid.NewString(),
		Name:   name,
		SHA256: hex.EncodeToString(hash[:]),
	}

	changed, err := s.chunks.DocumentChanged(ctx, doc)
	if err != nil {
		return fmt.Errorf("check document: %w", err)
	}
	if !changed {
		s.logger.Printf("%s unchanged, skipping", name)
		return nil
	}

	pages, err := LoadPDF(path)
	if err != nil {
		return err
	}

	s.chunker.Reset()
	var chunks []store.Chunk
	for _, page := range pages {
		chunks = append(chunks, s.chunker.ChunkPage(name, page)...)
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	// An empty document still goes through ReplaceChunks: the hash is
	// recorded and any chunks from a previous version are removed.
	if err := s.chunks.ReplaceChunks(ctx, doc, chunks, vectors); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	s.logger.Printf("ingested %s: %d pages, %d chunks", name, len(pages), len(chunks))
	return nil
}

func (s *Service) embedChunks(ctx context.Context, chunks []store.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunk batch: %w", err)
		}
		vectors = append(vectors, batch...)
	}

	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	return vectors, nil
}

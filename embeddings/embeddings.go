package embeddings

import "context"

// Embedder converts texts into dense vectors. Implementations own their own
// retry and timeout behavior; callers treat a returned error as terminal for
// the current request.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Model     string
	Dimension int

	APIKey  string
	BaseURL string
}

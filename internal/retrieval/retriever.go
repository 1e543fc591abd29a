package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/tutorloop/tutorloop/config"
	"github.com/tutorloop/tutorloop/models"
)

// Embedder produces query vectors. It must be backed by the same
// embedding model used at ingestion time: mixing embedding spaces
// silently degrades relevance with no error signal, so the model is
// pinned once in config and shared by ingestion and retrieval.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// chunkSearcher abstracts the store search used by the retriever.
type chunkSearcher interface {
	SearchChunks(ctx context.Context, vector []float32, filters models.ChunkFilters, topK int, floor float64) ([]models.RetrievalCandidate, error)
}

// Retriever embeds a query and runs nearest-neighbour search against
// the passage index.
type Retriever struct {
	embedder Embedder
	searcher chunkSearcher
	cfg      config.RetrievalConfig
}

func NewRetriever(embedder Embedder, searcher chunkSearcher, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{embedder: embedder, searcher: searcher, cfg: cfg}
}

// Retrieve returns up to k candidates ordered by descending raw
// similarity. An empty index or zero matches above the floor
// similarity yields an empty list, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, filters models.ChunkFilters, k int) ([]models.RetrievalCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if k <= 0 {
		k = r.cfg.TopK
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed query: provider returned no vectors")
	}
	candidates, err := r.searcher.SearchChunks(ctx, vectors[0], filters, k, r.cfg.FloorSimilarity)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates, nil
}

package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/tutorloop/tutorloop/internal/credentials"
	"github.com/tutorloop/tutorloop/internal/llm"
)

// poolEmbedder routes embedding calls through the credential pool so
// ingest and query embedding share the provider rotation with
// generation. The embedding model stays pinned in config, which keeps
// ingestion and retrieval in one embedding space.
type poolEmbedder struct {
	provider llm.Provider
	pool     *credentials.Pool
}

func newPoolEmbedder(provider llm.Provider, pool *credentials.Pool) *poolEmbedder {
	return &poolEmbedder{provider: provider, pool: pool}
}

func (e *poolEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	attempts := e.pool.Size()
	if attempts == 0 {
		return nil, credentials.ErrNoCredentials
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		cred, err := e.pool.NextSlot(ctx)
		if err != nil {
			return nil, err
		}
		vecs, err := e.provider.Embed(ctx, cred.Key, input)
		if err == nil {
			e.pool.MarkSuccess(ctx, cred.SlotID)
			return vecs, nil
		}
		lastErr = err
		if retryAfter, ok := llm.IsRateLimit(err); ok {
			e.pool.MarkRateLimited(ctx, cred.SlotID, retryAfter)
			continue
		}
		if errors.Is(err, llm.ErrUnavailable) {
			e.pool.MarkRateLimited(ctx, cred.SlotID, 0)
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("embed: all credentials exhausted: %v", lastErr)
}

// Package answers is the versioned response store service: stored
// explanations are roots owning ordered blocks, and each block can be
// rewritten on its own while keeping a bounded history of prior
// states.
package answers

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/tutorloop/tutorloop/models"
)

// blockStore abstracts the persistence the service needs.
type blockStore interface {
	CreateResponse(ctx context.Context, userID, topic, contentText, metaText string) (models.StoredResponse, error)
	GetResponse(ctx context.Context, responseID string) (models.StoredResponse, error)
	GetBlock(ctx context.Context, responseID, blockID string) (models.Block, error)
	AddBlock(ctx context.Context, responseID, topic, contentText, metaText string) (models.Block, error)
	UpdateBlock(ctx context.Context, responseID, blockID, contentText, metaText string) (models.Block, error)
}

// lockStripes bounds lock memory while keeping regenerations of
// unrelated blocks independent in practice. Block ids that hash to
// the same stripe share a mutex, so two unrelated regenerations can
// occasionally serialize; correctness never depends on stripe
// placement, only the per-block exclusion does.
const lockStripes = 64

// Service serializes regenerations per block: at most one in-flight
// regeneration per block identifier, siblings unaffected.
type Service struct {
	store blockStore
	locks [lockStripes]sync.Mutex
}

func NewService(store blockStore) *Service {
	return &Service{store: store}
}

// CreateResponse creates the root record with its first block at
// iteration 1.
func (s *Service) CreateResponse(ctx context.Context, userID, topic, contentText, metaText string) (models.StoredResponse, error) {
	return s.store.CreateResponse(ctx, userID, topic, contentText, metaText)
}

// GetResponse loads a stored response with its blocks.
func (s *Service) GetResponse(ctx context.Context, responseID string) (models.StoredResponse, error) {
	return s.store.GetResponse(ctx, responseID)
}

// GetBlock loads one block; models.ErrBlockNotFound when either
// identifier is absent.
func (s *Service) GetBlock(ctx context.Context, responseID, blockID string) (models.Block, error) {
	return s.store.GetBlock(ctx, responseID, blockID)
}

// AddBlock appends a new block at iteration 1. Existing blocks keep
// their iteration levels.
func (s *Service) AddBlock(ctx context.Context, responseID, topic, contentText, metaText string) (models.Block, error) {
	return s.store.AddBlock(ctx, responseID, topic, contentText, metaText)
}

// RegenerateBlock replaces a block's text under the block's lock. The
// previous state goes onto the history (oldest evicted at capacity)
// and the iteration level increments. A caller whose context is
// already cancelled releases the lock without touching the block.
func (s *Service) RegenerateBlock(ctx context.Context, responseID, blockID, contentText, metaText string) (models.Block, error) {
	mu := s.lockFor(blockID)
	mu.Lock()
	defer mu.Unlock()
	if err := ctx.Err(); err != nil {
		return models.Block{}, err
	}
	return s.store.UpdateBlock(ctx, responseID, blockID, contentText, metaText)
}

func (s *Service) lockFor(blockID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(blockID))
	return &s.locks[h.Sum32()%lockStripes]
}

package moderation

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests.
// It is not intended for production use.

type MemoryRepo struct {
	mu     sync.Mutex
	bans   map[string]Ban
	blocks map[[2]string]Block
}

var _ Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		bans:   make(map[string]Ban),
		blocks: make(map[[2]string]Block),
	}
}

func (r *MemoryRepo) FindBan(ctx context.Context, userID string) (Ban, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bans[userID]
	return b, ok, nil
}

func (r *MemoryRepo) UpsertBan(ctx context.Context, b Ban) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bans[b.UserID] = b
	return nil
}

func (r *MemoryRepo) InsertBlock(ctx context.Context, b Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]string{b.BlockerID, b.BlockedID}
	if _, ok := r.blocks[key]; !ok {
		r.blocks[key] = b
	}
	return nil
}

// Blocks returns a copy of all recorded blocks; test helper.
func (r *MemoryRepo) Blocks() []Block {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Block, 0, len(r.blocks))
	for _, b := range r.blocks {
		out = append(out, b)
	}
	return out
}

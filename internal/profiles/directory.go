package profiles

import (
	"context"
	"errors"
	"sync"
)

// Directory stores and resolves display metadata.
//
// Rules:
// - Lookups by user id only; aliases are not unique and not searchable.
// - Entries are as ephemeral as the identities they describe; backends
//   may expire them once the owning tokens cannot be refreshed anymore.
type Directory interface {
	Put(ctx context.Context, p Profile) error
	Lookup(ctx context.Context, userID string) (Profile, bool, error)
}

var ErrInvalidProfile = errors.New("profiles: invalid profile")

// MemoryDirectory is an in-memory Directory for tests and local dev.
// It never expires entries and is not intended for production use.

type MemoryDirectory struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

var _ Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{profiles: make(map[string]Profile)}
}

func (d *MemoryDirectory) Put(ctx context.Context, p Profile) error {
	if p.UserID == "" {
		return ErrInvalidProfile
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.UserID] = p
	return nil
}

func (d *MemoryDirectory) Lookup(ctx context.Context, userID string) (Profile, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[userID]
	return p, ok, nil
}

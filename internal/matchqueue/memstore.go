package matchqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store useful for tests and local development.
// It is not intended for production use.
//
// One mutex serializes whole pairing attempts, which gives the same
// externally observable exclusivity as the row-locked SQL implementation.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]QueueEntry
	matches map[string]Match
	blocks  map[[2]string]struct{}
	ttl     time.Duration
}

var _ Store = (*MemStore)(nil)

func NewMemStore(queueTTL time.Duration) *MemStore {
	return &MemStore{
		entries: make(map[string]QueueEntry),
		matches: make(map[string]Match),
		blocks:  make(map[[2]string]struct{}),
		ttl:     queueTTL,
	}
}

// AddBlock registers a one-directional block; pairing excludes the pair in
// both directions regardless of who blocked whom.
func (s *MemStore) AddBlock(blockerID, blockedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[[2]string{blockerID, blockedID}] = struct{}{}
}

func (s *MemStore) RequestPairing(ctx context.Context, callerID string, now time.Time) (PairingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.takeActiveMatch(callerID, now); ok {
		delete(s.entries, callerID)
		return PairingResult{Matched: true, Match: m}, nil
	}

	cutoff := now.Add(-s.ttl)
	s.purgeStale(cutoff)

	if cand, ok := s.lockOldestCandidate(callerID, cutoff); ok {
		delete(s.entries, callerID)
		delete(s.entries, cand.UserID)
		m := Match{
			ID:        uuid.NewString(),
			UserA:     callerID,
			UserB:     cand.UserID,
			CreatedAt: now,
		}
		s.matches[m.ID] = m
		return PairingResult{Matched: true, Match: m}, nil
	}

	e, ok := s.entries[callerID]
	if !ok {
		e = QueueEntry{UserID: callerID, JoinedAt: now}
	}
	e.UpdatedAt = now
	s.entries[callerID] = e
	return PairingResult{}, nil
}

func (s *MemStore) CancelSearch(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

func (s *MemStore) EndMatch(ctx context.Context, matchID, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok || !m.HasParticipant(userID) {
		return ErrNotFound
	}
	if m.EndedAt != nil {
		return nil
	}
	ended := now
	m.EndedAt = &ended
	s.matches[matchID] = m
	return nil
}

func (s *MemStore) ActiveMatch(ctx context.Context, userID string) (Match, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.matches {
		if m.EndedAt == nil && m.HasParticipant(userID) {
			return m, true, nil
		}
	}
	return Match{}, false, nil
}

func (s *MemStore) FindMatch(ctx context.Context, matchID string) (Match, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	return m, ok, nil
}

// QueueLen reports the number of waiting entries; test helper.
func (s *MemStore) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemStore) takeActiveMatch(userID string, now time.Time) (Match, bool) {
	var ids []string
	for id := range s.matches {
		ids = append(ids, id)
	}
	// Deterministic scan order keeps corrupt-row handling stable.
	sort.Strings(ids)

	var found Match
	var ok bool
	for _, id := range ids {
		m := s.matches[id]
		if m.EndedAt != nil || !m.HasParticipant(userID) {
			continue
		}
		if m.Corrupt() {
			ended := now
			m.EndedAt = &ended
			s.matches[id] = m
			continue
		}
		if !ok {
			found = m
			ok = true
		}
	}
	return found, ok
}

func (s *MemStore) purgeStale(cutoff time.Time) {
	for id, e := range s.entries {
		if e.UpdatedAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

// lockOldestCandidate mirrors the SQL store's claim: oldest joined_at wins,
// the caller and blocked pairs are excluded. Removal under the store mutex
// plays the role the row lock plays in Postgres.
func (s *MemStore) lockOldestCandidate(callerID string, cutoff time.Time) (QueueEntry, bool) {
	var best QueueEntry
	var ok bool
	for id, e := range s.entries {
		if id == callerID || e.UpdatedAt.Before(cutoff) {
			continue
		}
		if s.blockedPair(callerID, id) {
			continue
		}
		if !ok || e.JoinedAt.Before(best.JoinedAt) {
			best = e
			ok = true
		}
	}
	return best, ok
}

func (s *MemStore) blockedPair(a, b string) bool {
	if _, ok := s.blocks[[2]string{a, b}]; ok {
		return true
	}
	_, ok := s.blocks[[2]string{b, a}]
	return ok
}

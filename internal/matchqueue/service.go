package matchqueue

import (
	"context"
	"errors"
	"time"
)

// Gate screens participants before any pairing work happens. Implemented
// by internal/moderation; nil disables screening (tests, local dev).
type Gate interface {
	CheckAllowed(ctx context.Context, userID string) error
}

// RateLimiter bounds pairing attempts per participant. nil disables
// limiting.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRateLimited     = errors.New("rate limited")
)

// Service provides the pairing operations.
//
// Pairing invariants:
// - Requesting a match while already matched returns the existing match;
//   it never creates a second one.
// - Two concurrent requests can never claim the same candidate.
// - FIFO: the longest-waiting eligible candidate is chosen first.
//
// The heavy lifting lives in the Store; the service owns validation,
// screening and limiting so both store implementations stay policy-free.
type Service struct {
	store   Store
	gate    Gate
	limiter RateLimiter

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store, gate Gate, limiter RateLimiter) *Service {
	return &Service{store: store, gate: gate, limiter: limiter, clock: time.Now}
}

// RequestMatch runs one pairing attempt for userID. An empty result means
// the caller is queued and should retry after the poll backoff.
func (s *Service) RequestMatch(ctx context.Context, userID string) (PairingResult, error) {
	if userID == "" {
		return PairingResult{}, ErrInvalidArgument
	}
	if s.gate != nil {
		if err := s.gate.CheckAllowed(ctx, userID); err != nil {
			return PairingResult{}, err
		}
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, userID)
		if err != nil {
			return PairingResult{}, err
		}
		if !ok {
			return PairingResult{}, ErrRateLimited
		}
	}
	return s.store.RequestPairing(ctx, userID, s.clock().UTC())
}

// StopSearch removes the caller from the queue. Stopping a search that is
// not running is a no-op.
func (s *Service) StopSearch(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	return s.store.CancelSearch(ctx, userID)
}

// EndMatch marks the caller's match ended. Idempotent; ending an unknown
// or foreign match is ErrNotFound.
func (s *Service) EndMatch(ctx context.Context, matchID, userID string) error {
	if matchID == "" || userID == "" {
		return ErrInvalidArgument
	}
	return s.store.EndMatch(ctx, matchID, userID, s.clock().UTC())
}

// ActiveMatch returns the caller's unended match, if any. Used to
// authorize signaling subscriptions and connected-event reporting.
func (s *Service) ActiveMatch(ctx context.Context, userID string) (Match, bool, error) {
	if userID == "" {
		return Match{}, false, ErrInvalidArgument
	}
	return s.store.ActiveMatch(ctx, userID)
}

// FindMatch looks a match up by id regardless of whether it has ended; a
// connected report can legitimately arrive after a quick hangup.
func (s *Service) FindMatch(ctx context.Context, matchID string) (Match, bool, error) {
	if matchID == "" {
		return Match{}, false, ErrInvalidArgument
	}
	return s.store.FindMatch(ctx, matchID)
}

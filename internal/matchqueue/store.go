package matchqueue

import (
	"context"
	"time"
)

// Store is the pairing storage abstraction.
//
// Exclusivity contract (both implementations must honor it):
// - RequestPairing acquires candidates via lock-and-skip semantics, so two
//   concurrent calls can never be assigned the same candidate.
// - A caller is never paired while another pairing that includes it is in
//   flight; RequestPairing serializes on the caller's own queue entry
//   before inspecting match state.
// - No participant ends up in two unended matches.
type Store interface {
	// RequestPairing runs one full pairing attempt for callerID:
	// idempotent return of an existing unended match (ending corrupt rows
	// on sight), stale-entry purge, oldest-eligible candidate acquisition,
	// and enqueue-on-miss. The whole attempt is atomic.
	RequestPairing(ctx context.Context, callerID string, now time.Time) (PairingResult, error)

	// CancelSearch removes callerID's queue entry. Removing an absent
	// entry is a no-op.
	CancelSearch(ctx context.Context, userID string) error

	// EndMatch marks the match ended iff userID is a participant. Ending
	// an already-ended match is a no-op success. Unknown match ids and
	// non-participants get ErrNotFound.
	EndMatch(ctx context.Context, matchID, userID string, now time.Time) error

	// ActiveMatch returns userID's unended match, if any.
	ActiveMatch(ctx context.Context, userID string) (Match, bool, error)

	// FindMatch returns a match by id, ended or not.
	FindMatch(ctx context.Context, matchID string) (Match, bool, error)
}

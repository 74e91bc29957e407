package rewards

import "time"

// LedgerEntry is an immutable append-only points entry.
//
// Points invariant: any balance change MUST have a corresponding ledger
// entry; no code mutates a balance directly.
// Idempotency invariant: (user_id, idempotency_key) is unique, so retried
// reports of the same event can never credit twice.
type LedgerEntry struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	// MatchID links the credit to the call it came from.
	MatchID string `json:"match_id" db:"match_id"`

	// Kind categorizes the entry. Keep stable.
	Kind EntryKind `json:"kind" db:"kind"`

	// Points is the signed amount. Credits are positive.
	Points int64 `json:"points" db:"points"`

	IdempotencyKey string    `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type EntryKind string

const (
	// EntryKindCallConnected is the one-time credit for a call reaching
	// the connected state. The only credit source today.
	EntryKindCallConnected EntryKind = "call_connected"
)

// Balance is a projection over the ledger, updated atomically alongside
// ledger inserts.
type Balance struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Points    int64     `json:"points" db:"points"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

package matchqueue

import "time"

// QueueEntry is one participant waiting to be paired.
// Invariant: at most one entry per participant (keyed by user id); retrying
// a search refreshes UpdatedAt but never moves JoinedAt, so a participant
// cannot lose queue position by polling.
type QueueEntry struct {
	UserID   string    `json:"user_id" db:"user_id"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`

	// UpdatedAt drives staleness. Entries older than the queue TTL are
	// purged and never paired.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Match pairs exactly two participants.
//
// Pairing invariants:
// - A participant is in at most one unended match at any time.
// - UserA and UserB are distinct and non-empty; anything else is corrupt
//   state and is ended on sight by the pairing path.
// - EndedAt is set once and never cleared; rows are never deleted.
type Match struct {
	ID        string     `json:"id" db:"id"`
	UserA     string     `json:"user_a" db:"user_a"`
	UserB     string     `json:"user_b" db:"user_b"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// PartnerOf returns the other participant, or "" when userID is not a
// member of the match.
func (m Match) PartnerOf(userID string) string {
	switch userID {
	case m.UserA:
		return m.UserB
	case m.UserB:
		return m.UserA
	default:
		return ""
	}
}

// HasParticipant reports whether userID is one of the two members.
func (m Match) HasParticipant(userID string) bool {
	return userID != "" && (userID == m.UserA || userID == m.UserB)
}

// Corrupt reports a self-match or a missing partner. Such rows must never
// be returned to callers; the pairing path ends them and continues.
func (m Match) Corrupt() bool {
	return m.UserA == "" || m.UserB == "" || m.UserA == m.UserB
}

// PairingResult is the outcome of one pairing attempt.
// Matched=false means the caller was (re)enqueued and should poll again
// after a backoff.
type PairingResult struct {
	Matched bool  `json:"matched"`
	Match   Match `json:"match,omitempty"`
}

package moderation

import "time"

// Ban removes a participant from the pairing pool. ExpiresAt nil means
// permanent; an expired ban no longer gates anything but stays on record.
type Ban struct {
	UserID    string     `json:"user_id" db:"user_id"`
	Reason    string     `json:"reason" db:"reason"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// Active reports whether the ban gates at the given instant.
func (b Ban) Active(now time.Time) bool {
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}

// Block is a one-directional "never pair us again" record. The pairing
// query excludes the pair in both directions regardless of direction here.
type Block struct {
	BlockerID string    `json:"blocker_id" db:"blocker_id"`
	BlockedID string    `json:"blocked_id" db:"blocked_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

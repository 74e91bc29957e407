package profiles

import "time"

// Profile is the display metadata attached to an anonymous participant.
//
// Profiles never influence pairing or call behavior; they exist so the
// client can render something friendlier than a UUID. The alias is the
// participant-chosen name from session creation, never a real identity.

type Profile struct {
	UserID string `json:"user_id"`
	Alias  string `json:"alias"`

	// AvatarSeed drives deterministic avatar rendering on the client.
	AvatarSeed string `json:"avatar_seed,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

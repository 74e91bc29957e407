package reports

import "time"

// Report is an immutable, append-only abuse report filed by one match
// participant against the other.
//
// Invariants:
// - Reports are never updated or deleted.
// - reporter_id and reported_id are always distinct.
// - Reports reference a match (possibly already ended); whether both
//   parties actually belonged to that match is checked by the HTTP layer
//   before filing, so the record is trustworthy for review.

type Report struct {
	ID      string `json:"id" db:"id"`
	MatchID string `json:"match_id" db:"match_id"`

	ReporterID string `json:"reporter_id" db:"reporter_id"`
	ReportedID string `json:"reported_id" db:"reported_id"`

	// Reason is the reporter-selected category.
	Reason string `json:"reason" db:"reason"`

	// Note is optional free text from the reporter.
	Note string `json:"note,omitempty" db:"note"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Well-known reasons. Free-form values are accepted too; these are the
// ones the bundled client offers.
const (
	ReasonAbuse         = "abuse"
	ReasonSpam          = "spam"
	ReasonInappropriate = "inappropriate"
	ReasonOther         = "other"
)

package reports

import (
	"context"
	"database/sql"
)

// NOTE: This repository assumes the following table exists:
// - reports (id TEXT PRIMARY KEY, match_id TEXT NOT NULL,
//   reporter_id TEXT NOT NULL, reported_id TEXT NOT NULL,
//   reason TEXT NOT NULL, note TEXT NOT NULL DEFAULT '',
//   created_at TIMESTAMPTZ NOT NULL)
//
// Recommended: an INSERT-only policy (or a trigger rejecting
// UPDATE/DELETE), and an index on (reported_id, created_at) for review
// queries.

type PGRepo struct {
	db *sql.DB
}

var _ Repository = (*PGRepo)(nil)

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Append(ctx context.Context, rep Report) error {
	const q = `
INSERT INTO reports (id, match_id, reporter_id, reported_id, reason, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := r.db.ExecContext(ctx, q,
		rep.ID,
		rep.MatchID,
		rep.ReporterID,
		rep.ReportedID,
		rep.Reason,
		rep.Note,
		rep.CreatedAt,
	)
	return err
}

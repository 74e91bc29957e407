package moderation

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: This repository assumes the following tables exist:
// - bans (user_id TEXT PRIMARY KEY, reason TEXT NOT NULL,
//   created_at TIMESTAMPTZ NOT NULL, expires_at TIMESTAMPTZ NULL)
// - blocks (blocker_id TEXT, blocked_id TEXT,
//   created_at TIMESTAMPTZ NOT NULL, PRIMARY KEY (blocker_id, blocked_id))
//
// The blocks table is also read by internal/matchqueue's candidate query;
// the column names are part of that contract.

type PGRepo struct {
	db *sql.DB
}

var _ Repository = (*PGRepo)(nil)

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) FindBan(ctx context.Context, userID string) (Ban, bool, error) {
	const q = `
SELECT user_id, reason, created_at, expires_at
FROM bans
WHERE user_id = $1
`
	var b Ban
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(
		&b.UserID,
		&b.Reason,
		&b.CreatedAt,
		&b.ExpiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Ban{}, false, nil
		}
		return Ban{}, false, err
	}
	return b, true, nil
}

func (r *PGRepo) UpsertBan(ctx context.Context, b Ban) error {
	const q = `
INSERT INTO bans (user_id, reason, created_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id)
DO UPDATE SET reason = EXCLUDED.reason,
              created_at = EXCLUDED.created_at,
              expires_at = EXCLUDED.expires_at
`
	_, err := r.db.ExecContext(ctx, q, b.UserID, b.Reason, b.CreatedAt, b.ExpiresAt)
	return err
}

func (r *PGRepo) InsertBlock(ctx context.Context, b Block) error {
	const q = `
INSERT INTO blocks (blocker_id, blocked_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (blocker_id, blocked_id) DO NOTHING
`
	_, err := r.db.ExecContext(ctx, q, b.BlockerID, b.BlockedID, b.CreatedAt)
	return err
}

package matchqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paircall/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This store assumes the following tables exist:
// - queue_entries (user_id TEXT PRIMARY KEY, joined_at TIMESTAMPTZ NOT NULL,
//   updated_at TIMESTAMPTZ NOT NULL) with an index on (joined_at) for FIFO
//   selection and one on (updated_at) for the purge.
// - matches (id UUID PRIMARY KEY, user_a TEXT NOT NULL, user_b TEXT NOT NULL,
//   created_at TIMESTAMPTZ NOT NULL, ended_at TIMESTAMPTZ NULL). Partial
//   indexes on (user_a) / (user_b) WHERE ended_at IS NULL keep the
//   active-match lookup cheap.
// - blocks (blocker_id TEXT, blocked_id TEXT, PRIMARY KEY (blocker_id,
//   blocked_id)); written by internal/moderation, read here to exclude
//   blocked pairs from pairing.

// PGStore implements Store on Postgres. Every pairing attempt is a single
// transaction; candidate acquisition uses FOR UPDATE SKIP LOCKED so
// concurrent attempts fan out over distinct candidates instead of piling
// onto the oldest row.
type PGStore struct {
	db  *sql.DB
	ttl time.Duration
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB, queueTTL time.Duration) *PGStore {
	return &PGStore{db: db, ttl: queueTTL}
}

func (s *PGStore) RequestPairing(ctx context.Context, callerID string, now time.Time) (PairingResult, error) {
	var out PairingResult

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Serialize against any pairing that is mid-flight with the caller
		// as its candidate: if another transaction holds the caller's queue
		// row, this blocks until it commits, and the match-state check
		// below then sees the freshly created match.
		if err := lockOwnEntry(ctx, tx, callerID); err != nil {
			return err
		}

		m, ok, err := takeActiveMatch(ctx, tx, callerID, now)
		if err != nil {
			return err
		}
		if ok {
			// Matched participants do not belong in the queue.
			if err := deleteQueueEntry(ctx, tx, callerID); err != nil {
				return err
			}
			out = PairingResult{Matched: true, Match: m}
			return nil
		}

		cutoff := now.Add(-s.ttl)
		if err := purgeStaleEntries(ctx, tx, cutoff); err != nil {
			return err
		}

		cand, ok, err := lockOldestCandidate(ctx, tx, callerID, cutoff)
		if err != nil {
			return err
		}
		if ok {
			if err := deleteQueueEntry(ctx, tx, callerID); err != nil {
				return err
			}
			if err := deleteQueueEntry(ctx, tx, cand.UserID); err != nil {
				return err
			}
			m := Match{
				ID:        uuid.NewString(),
				UserA:     callerID,
				UserB:     cand.UserID,
				CreatedAt: now,
			}
			if err := insertMatch(ctx, tx, m); err != nil {
				return err
			}
			out = PairingResult{Matched: true, Match: m}
			return nil
		}

		return upsertQueueEntry(ctx, tx, callerID, now)
	})

	return out, err
}

func (s *PGStore) CancelSearch(ctx context.Context, userID string) error {
	const q = `DELETE FROM queue_entries WHERE user_id = $1`
	_, err := s.db.ExecContext(ctx, q, userID)
	return err
}

func (s *PGStore) EndMatch(ctx context.Context, matchID, userID string, now time.Time) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
SELECT id, user_a, user_b, created_at, ended_at
FROM matches
WHERE id = $1
FOR UPDATE
`
		var m Match
		if err := tx.QueryRowContext(ctx, q, matchID).Scan(
			&m.ID,
			&m.UserA,
			&m.UserB,
			&m.CreatedAt,
			&m.EndedAt,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		// Non-participants get the same answer as an unknown id; match
		// membership is not discoverable.
		if !m.HasParticipant(userID) {
			return ErrNotFound
		}
		if m.EndedAt != nil {
			return nil
		}
		return endMatchRow(ctx, tx, matchID, now)
	})
}

func (s *PGStore) ActiveMatch(ctx context.Context, userID string) (Match, bool, error) {
	const q = `
SELECT id, user_a, user_b, created_at, ended_at
FROM matches
WHERE (user_a = $1 OR user_b = $1) AND ended_at IS NULL
ORDER BY created_at ASC
LIMIT 1
`
	var m Match
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&m.ID,
		&m.UserA,
		&m.UserB,
		&m.CreatedAt,
		&m.EndedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Match{}, false, nil
		}
		return Match{}, false, err
	}
	return m, true, nil
}

func (s *PGStore) FindMatch(ctx context.Context, matchID string) (Match, bool, error) {
	const q = `
SELECT id, user_a, user_b, created_at, ended_at
FROM matches
WHERE id = $1
`
	var m Match
	if err := s.db.QueryRowContext(ctx, q, matchID).Scan(
		&m.ID,
		&m.UserA,
		&m.UserB,
		&m.CreatedAt,
		&m.EndedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Match{}, false, nil
		}
		return Match{}, false, err
	}
	return m, true, nil
}

func lockOwnEntry(ctx context.Context, tx *sql.Tx, userID string) error {
	// Plain FOR UPDATE, deliberately not SKIP LOCKED: waiting here is the
	// point.
	const q = `SELECT user_id FROM queue_entries WHERE user_id = $1 FOR UPDATE`
	var id string
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	return nil
}

// takeActiveMatch returns the caller's unended match if one exists. Corrupt
// rows (self-match or missing partner) are ended on sight and skipped.
func takeActiveMatch(ctx context.Context, tx *sql.Tx, userID string, now time.Time) (Match, bool, error) {
	const q = `
SELECT id, user_a, user_b, created_at, ended_at
FROM matches
WHERE (user_a = $1 OR user_b = $1) AND ended_at IS NULL
ORDER BY created_at ASC
`
	rows, err := tx.QueryContext(ctx, q, userID)
	if err != nil {
		return Match{}, false, err
	}
	var all []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.UserA, &m.UserB, &m.CreatedAt, &m.EndedAt); err != nil {
			rows.Close()
			return Match{}, false, err
		}
		all = append(all, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Match{}, false, err
	}
	rows.Close()

	var found Match
	var ok bool
	for _, m := range all {
		if m.Corrupt() {
			if err := endMatchRow(ctx, tx, m.ID, now); err != nil {
				return Match{}, false, err
			}
			continue
		}
		if !ok {
			found = m
			ok = true
		}
	}
	return found, ok, nil
}

func purgeStaleEntries(ctx context.Context, tx *sql.Tx, cutoff time.Time) error {
	// Rows locked by a concurrent pairing are skipped, not waited on; the
	// next purge gets them if they survive.
	const q = `
DELETE FROM queue_entries
WHERE user_id IN (
  SELECT user_id FROM queue_entries
  WHERE updated_at < $1
  FOR UPDATE SKIP LOCKED
)
`
	_, err := tx.ExecContext(ctx, q, cutoff)
	return err
}

// lockOldestCandidate claims the longest-waiting eligible entry. SKIP
// LOCKED is what makes pairing exclusive under concurrency: a row claimed
// by another in-flight pairing is invisible here rather than a lock wait.
func lockOldestCandidate(ctx context.Context, tx *sql.Tx, callerID string, cutoff time.Time) (QueueEntry, bool, error) {
	const q = `
SELECT user_id, joined_at, updated_at
FROM queue_entries
WHERE user_id <> $1
  AND updated_at >= $2
  AND NOT EXISTS (
    SELECT 1 FROM blocks b
    WHERE (b.blocker_id = $1 AND b.blocked_id = queue_entries.user_id)
       OR (b.blocker_id = queue_entries.user_id AND b.blocked_id = $1)
  )
ORDER BY joined_at ASC
FOR UPDATE SKIP LOCKED
LIMIT 1
`
	var e QueueEntry
	if err := tx.QueryRowContext(ctx, q, callerID, cutoff).Scan(
		&e.UserID,
		&e.JoinedAt,
		&e.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return QueueEntry{}, false, nil
		}
		return QueueEntry{}, false, err
	}
	return e, true, nil
}

func deleteQueueEntry(ctx context.Context, tx *sql.Tx, userID string) error {
	const q = `DELETE FROM queue_entries WHERE user_id = $1`
	_, err := tx.ExecContext(ctx, q, userID)
	return err
}

func insertMatch(ctx context.Context, tx *sql.Tx, m Match) error {
	const q = `
INSERT INTO matches (id, user_a, user_b, created_at)
VALUES ($1, $2, $3, $4)
`
	_, err := tx.ExecContext(ctx, q, m.ID, m.UserA, m.UserB, m.CreatedAt)
	return err
}

func upsertQueueEntry(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	// joined_at is written once; refreshes only bump updated_at so queue
	// position is kept across polls.
	const q = `
INSERT INTO queue_entries (user_id, joined_at, updated_at)
VALUES ($1, $2, $2)
ON CONFLICT (user_id)
DO UPDATE SET updated_at = EXCLUDED.updated_at
`
	_, err := tx.ExecContext(ctx, q, userID, now)
	return err
}

func endMatchRow(ctx context.Context, tx *sql.Tx, matchID string, now time.Time) error {
	const q = `UPDATE matches SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL`
	_, err := tx.ExecContext(ctx, q, matchID, now)
	return err
}

package rewards

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paircall/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Service posts reward points.
//
// Points invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All posting operations run in a DB transaction
//
// Idempotency:
// - The connected credit is keyed by match id per user, so a client
//   retrying its connected report (or a hub redelivering it) can only
//   credit once.
type Service struct {
	db *sql.DB

	// connectedPoints is the credit for a first established call.
	connectedPoints int64

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB, connectedPoints int64) *Service {
	if connectedPoints <= 0 {
		connectedPoints = 10
	}
	return &Service{db: db, connectedPoints: connectedPoints, clock: time.Now}
}

// CreditCallConnected posts the one-time credit for matchID. Callers must
// have verified that userID is a participant of the match; this service
// only owns the points invariants.
func (s *Service) CreditCallConnected(ctx context.Context, userID, matchID string) (LedgerEntry, Balance, error) {
	if userID == "" || matchID == "" {
		return LedgerEntry{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	key := "match:" + matchID

	var outEntry LedgerEntry
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Idempotency: an existing entry for this user+match wins.
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, userID, key); err != nil {
			return err
		} else if ok {
			outEntry = existing
			b, err := getBalanceTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         userID,
			MatchID:        matchID,
			Kind:           EntryKindCallConnected,
			Points:         s.connectedPoints,
			IdempotencyKey: key,
			CreatedAt:      now,
		}
		inserted, err := insertLedger(ctx, tx, entry)
		if err != nil {
			return err
		}
		if !inserted {
			// Lost a race against a concurrent retry; adopt its entry.
			existing, ok, err := findLedgerByIdempotency(ctx, tx, userID, key)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("reward ledger insert conflicted but entry not found")
			}
			outEntry = existing
			b, err := getBalanceTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		// Projection update.
		b, err := applyBalanceDelta(ctx, tx, userID, entry.Points, now)
		if err != nil {
			return err
		}
		outEntry = entry
		outBal = b
		return nil
	})

	return outEntry, outBal, err
}

// GetBalance returns the projection row; participants with no credits yet
// get a zero balance, not an error.
func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	b, err := getBalance(ctx, s.db, userID)
	if errors.Is(err, ErrNotFound) {
		return Balance{UserID: userID}, nil
	}
	return b, err
}

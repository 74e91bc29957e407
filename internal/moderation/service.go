package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository is the persistence contract for bans and blocks.
//
// Bans are keyed by participant; writing a ban replaces the previous one.
// Blocks are append-only pairs; duplicate inserts are no-ops.

type Repository interface {
	FindBan(ctx context.Context, userID string) (Ban, bool, error)
	UpsertBan(ctx context.Context, b Ban) error
	InsertBlock(ctx context.Context, b Block) error
}

var (
	ErrBanned          = errors.New("participant banned")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Service gates pairing on moderation state and records blocks.
//
// CheckAllowed sits on the hot path of every pairing request, so lookups
// go through a short-lived Redis cache when a client is configured; the
// database stays the source of truth.
type Service struct {
	repo  Repository
	rdb   *redis.Client
	clock func() time.Time
}

const (
	banCacheTTL    = time.Minute
	banCachePrefix = "mod:ban:"
)

// NewService builds the gate. rdb may be nil; lookups then always hit the
// repository.
func NewService(repo Repository, rdb *redis.Client) *Service {
	return &Service{repo: repo, rdb: rdb, clock: time.Now}
}

// CheckAllowed returns ErrBanned when userID has an active ban.
func (s *Service) CheckAllowed(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidArgument
	}

	if s.rdb != nil {
		if v, err := s.rdb.Get(ctx, banCachePrefix+userID).Result(); err == nil {
			if v == "1" {
				return ErrBanned
			}
			return nil
		}
		// Cache misses and Redis errors both fall through to the
		// repository; moderation must not depend on cache availability.
	}

	now := s.clock().UTC()
	ban, ok, err := s.repo.FindBan(ctx, userID)
	if err != nil {
		return err
	}
	banned := ok && ban.Active(now)

	if s.rdb != nil {
		v := "0"
		if banned {
			v = "1"
		}
		_ = s.rdb.Set(ctx, banCachePrefix+userID, v, banCacheTTL).Err()
	}

	if banned {
		return ErrBanned
	}
	return nil
}

// Ban records (or replaces) a ban and drops the cached verdict.
func (s *Service) Ban(ctx context.Context, userID, reason string, expiresAt *time.Time) error {
	if userID == "" || reason == "" {
		return ErrInvalidArgument
	}
	b := Ban{
		UserID:    userID,
		Reason:    reason,
		CreatedAt: s.clock().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := s.repo.UpsertBan(ctx, b); err != nil {
		return err
	}
	if s.rdb != nil {
		_ = s.rdb.Del(ctx, banCachePrefix+userID).Err()
	}
	return nil
}

// Block records that blockerID never wants to meet blockedID again.
func (s *Service) Block(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == "" || blockedID == "" {
		return ErrInvalidArgument
	}
	if blockerID == blockedID {
		return ErrInvalidArgument
	}
	return s.repo.InsertBlock(ctx, Block{
		BlockerID: blockerID,
		BlockedID: blockedID,
		CreatedAt: s.clock().UTC(),
	})
}

package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const profileKeyPrefix = "profile:"

// RedisDirectory keeps profiles in Redis with a TTL matched to the
// refresh token lifetime, so display metadata disappears together with
// the identity it belongs to.

type RedisDirectory struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Directory = (*RedisDirectory)(nil)

func NewRedisDirectory(rdb *redis.Client, ttl time.Duration) *RedisDirectory {
	return &RedisDirectory{rdb: rdb, ttl: ttl}
}

func (d *RedisDirectory) Put(ctx context.Context, p Profile) error {
	if p.UserID == "" {
		return ErrInvalidProfile
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("profiles: marshal: %w", err)
	}
	return d.rdb.Set(ctx, profileKeyPrefix+p.UserID, raw, d.ttl).Err()
}

func (d *RedisDirectory) Lookup(ctx context.Context, userID string) (Profile, bool, error) {
	raw, err := d.rdb.Get(ctx, profileKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Profile{}, false, nil
		}
		return Profile{}, false, err
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, false, fmt.Errorf("profiles: unmarshal: %w", err)
	}
	return p, true, nil
}

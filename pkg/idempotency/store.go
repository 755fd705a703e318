package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the Redis fast-path for webhook deduplication. It is advisory:
// the Postgres uniqueness constraint on (gateway_code, event_id) is the
// authority, this just short-circuits the common retry storm.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(gateway, eventID string) string {
	return fmt.Sprintf("idem:webhook:%s:%s", gateway, eventID)
}

// Seen marks the key and reports whether it was already present.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget releases a key claimed by Seen, so a retry is not suppressed after
// the work it guarded failed.
func (s *Store) Forget(ctx context.Context, key string) {
	_ = s.rdb.Del(ctx, key).Err()
}

// Package ratelimit provides a Redis-backed fixed-window rate limiter with an
// explicit constructor-injected lifetime, shared across process replicas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func New(rdb *redis.Client, prefix string, limit int64, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

// Allow reports whether key has budget left in the current window. The
// counter key expires with the window, so an idle caller resets naturally.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := fmt.Sprintf("%s:%s:%d", l.prefix, key, time.Now().Unix()/int64(l.window.Seconds()))

	n, err := l.rdb.Incr(ctx, bucket).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, bucket, l.window).Err(); err != nil {
			return false, err
		}
	}
	return n <= l.limit, nil
}

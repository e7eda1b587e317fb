package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

func tallyKey(sessionID string) string {
	return "rollcall:session:" + sessionID + ":claims"
}

// IncrTally bumps the accepted-claim counter for a session. The worker
// maintains these so dashboards can poll without hitting Postgres.
func (r *Redis) IncrTally(ctx context.Context, sessionID string) (int64, error) {
	return r.Client.Incr(ctx, tallyKey(sessionID)).Result()
}

// Tally returns the accepted-claim counter for a session, zero when unset.
func (r *Redis) Tally(ctx context.Context, sessionID string) (int64, error) {
	n, err := r.Client.Get(ctx, tallyKey(sessionID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

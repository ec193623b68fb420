// Package dedup provides cross-process claims on message external IDs
// using Redis keys with a TTL. Two ingestion runs that overlap will not both
// download and extract the same message.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed run can hold a claim.
	DefaultTTL = 10 * time.Minute

	// keyPrefix namespaces claim keys in Redis.
	keyPrefix = "inbox-triage:claim:"
)

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Claims hands out short-lived exclusive claims on external IDs.
type Claims struct {
	rdb   redis.UniversalClient
	ttl   time.Duration
	token string
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Claims, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", opts.Addr, err)
	}
	return NewClaims(rdb, opts.TTL), nil
}

// NewClaims creates claims backed by an existing client. Each Claims value
// has its own owner token, so one run cannot release another run's claim.
func NewClaims(rdb redis.UniversalClient, ttl time.Duration) *Claims {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Claims{rdb: rdb, ttl: ttl, token: uuid.New().String()}
}

// Claim returns true if the ID was not claimed by anyone else. The claim is
// set atomically (SET NX) and expires after the TTL.
func (c *Claims) Claim(ctx context.Context, externalID string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, keyPrefix+externalID, c.token, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming %s: %w", externalID, err)
	}
	return ok, nil
}

// Release drops a claim held by this owner. Releasing a claim owned by
// someone else, or one that already expired, is a no-op.
func (c *Claims) Release(ctx context.Context, externalID string) error {
	err := releaseScript.Run(ctx, c.rdb, []string{keyPrefix + externalID}, c.token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("releasing %s: %w", externalID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Claims) Close() error {
	return c.rdb.Close()
}

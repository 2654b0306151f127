// Package ratelimit provides Redis-backed rate limiting using INCR + EXPIRE
// fixed windows. The bot throttles relayed messages and /start per user; the
// gateway throttles connections per IP.
package ratelimit

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:relay:", "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleRelay allows 5 relayed messages per 10 seconds per user.
	RuleRelay = Rule{Key: "rl:relay:", Limit: 5, Window: 10 * time.Second}

	// RuleStart allows 10 /start commands per minute per user.
	RuleStart = Rule{Key: "rl:start:", Limit: 10, Window: 1 * time.Minute}

	// RuleConnect allows 5 WebSocket connections per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: 1 * time.Minute}

	// RuleFrame allows 30 client frames per 10 seconds per user at the gateway.
	RuleFrame = Rule{Key: "rl:frame:", Limit: 30, Window: 10 * time.Second}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether identifier is within the limit defined by rule. It
// increments the counter and sets the expiry on first access.
//
// On Redis errors it fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// A key without TTL would throttle the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// AllowUser is Allow keyed by a numeric user id.
func (l *Limiter) AllowUser(ctx context.Context, userID int64, rule Rule) (bool, error) {
	return l.Allow(ctx, strconv.FormatInt(userID, 10), rule)
}

// RetryAfter returns how long until identifier's window resets. It returns
// the full window when the key is missing or Redis fails.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	ttl, err := l.client.PTTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl <= 0 {
		return rule.Window
	}
	return ttl
}

// Remaining returns the number of requests the identifier has left in the
// current window. Returns the full limit if the key does not exist yet or on
// Redis errors.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Package membership answers the subscription gate from a Redis hash that an
// external channel bridge keeps up to date: membership:<channel> maps user id
// to a status string.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix + <channel> is the hash of user id to status.
const KeyPrefix = "membership:"

// Statuses reported by the channel bridge.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"
)

// Checker looks up membership of one channel.
type Checker struct {
	client  *redis.Client
	channel string
}

// NewChecker creates a Checker for channel.
func NewChecker(client *redis.Client, channel string) *Checker {
	return &Checker{client: client, channel: channel}
}

func (c *Checker) key() string {
	return KeyPrefix + c.channel
}

// Status returns the stored status, or "" when the user is unknown.
func (c *Checker) Status(ctx context.Context, userID int64) (string, error) {
	status, err := c.client.HGet(ctx, c.key(), strconv.FormatInt(userID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("membership: lookup %d in %s: %w", userID, c.channel, err)
	}
	return status, nil
}

// IsMember reports whether userID is subscribed. Unknown users and users who
// left or were kicked are not.
func (c *Checker) IsMember(ctx context.Context, userID int64) (bool, error) {
	status, err := c.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return Subscribed(status), nil
}

// SetStatus records userID's status.
func (c *Checker) SetStatus(ctx context.Context, userID int64, status string) error {
	if err := c.client.HSet(ctx, c.key(), strconv.FormatInt(userID, 10), status).Err(); err != nil {
		return fmt.Errorf("membership: set %d in %s: %w", userID, c.channel, err)
	}
	return nil
}

// Subscribed reports whether status counts as subscribed.
func Subscribed(status string) bool {
	switch status {
	case "", StatusLeft, StatusKicked:
		return false
	default:
		return true
	}
}

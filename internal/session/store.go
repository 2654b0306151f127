package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/whisper/pairbot/internal/registration"
)

const (
	// ProgressPrefix is the Redis key prefix for registration progress.
	ProgressPrefix = "registration:"

	// ProgressTTL bounds how long an abandoned registration is remembered.
	ProgressTTL = 1 * time.Hour

	// PresenceSet holds the ids of all connected users.
	PresenceSet = "presence"

	// PresencePrefix + <user_id> holds the gateway serving the user.
	PresencePrefix = "presence:"

	presenceTTL = 24 * time.Hour
)

// Store manages session state in Redis. It implements
// registration.StateStore.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this gateway instance
}

var _ registration.StateStore = (*Store)(nil)

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

func progressKey(userID int64) string {
	return ProgressPrefix + strconv.FormatInt(userID, 10)
}

// Load returns the saved registration progress, or nil when there is none.
func (s *Store) Load(ctx context.Context, userID int64) (*registration.Progress, error) {
	data, err := s.client.Get(ctx, progressKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load progress %d: %w", userID, err)
	}

	var p registration.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("session: decode progress %d: %w", userID, err)
	}
	return &p, nil
}

// Save stores registration progress and refreshes its TTL.
func (s *Store) Save(ctx context.Context, userID int64, p *registration.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("session: encode progress %d: %w", userID, err)
	}
	if err := s.client.Set(ctx, progressKey(userID), data, ProgressTTL).Err(); err != nil {
		return fmt.Errorf("session: save progress %d: %w", userID, err)
	}
	return nil
}

// Clear removes registration progress.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, progressKey(userID)).Err(); err != nil {
		return fmt.Errorf("session: clear progress %d: %w", userID, err)
	}
	return nil
}

// MarkOnline records that userID is connected to this gateway.
func (s *Store) MarkOnline(ctx context.Context, userID int64) error {
	id := strconv.FormatInt(userID, 10)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, PresenceSet, id)
	pipe.Set(ctx, PresencePrefix+id, s.serverName, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// MarkOffline removes userID's presence.
func (s *Store) MarkOffline(ctx context.Context, userID int64) error {
	id := strconv.FormatInt(userID, 10)
	pipe := s.client.Pipeline()
	pipe.SRem(ctx, PresenceSet, id)
	pipe.Del(ctx, PresencePrefix+id)
	_, err := pipe.Exec(ctx)
	return err
}

// Server returns the gateway serving userID, or "" when offline.
func (s *Store) Server(ctx context.Context, userID int64) (string, error) {
	server, err := s.client.Get(ctx, PresencePrefix+strconv.FormatInt(userID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return server, err
}

// OnlineCount returns the number of connected users.
func (s *Store) OnlineCount(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, PresenceSet).Result()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

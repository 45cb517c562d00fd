// Package recovery provides draft backups for the note editor. The latest
// unsaved editor state is mirrored here on every buffered update so an edit
// session can be recovered after a crash or reload before a server save
// succeeded.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultFreshness is how long a backup is offered for recovery. Older
// backups are treated as stale: they are not offered on mount but remain
// retrievable until explicitly cleared.
const DefaultFreshness = time.Hour

// Key identifies a draft backup: one backup per content item per user.
type Key struct {
	Namespace string
	ContentID string
	UserID    string
}

// String renders the composite storage key, e.g. "note-nt_1a2b-us_3c4d".
func (k Key) String() string {
	return fmt.Sprintf("%s-%s-%s", k.Namespace, k.ContentID, k.UserID)
}

// Backup is a stored draft: the serialized editor state and when it was
// captured.
type Backup struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisStore implements draft backup storage using Redis.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	freshness time.Duration
}

// NewRedisStore creates a new Redis-backed draft store.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		prefix:    "draft:",
		freshness: DefaultFreshness,
	}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		prefix:    "draft:",
		freshness: DefaultFreshness,
	}
}

// SetFreshness overrides the recovery-offer window.
func (s *RedisStore) SetFreshness(window time.Duration) {
	if window > 0 {
		s.freshness = window
	}
}

func (s *RedisStore) storageKey(key Key) string {
	return s.prefix + key.String()
}

// SaveBackup writes or overwrites the backup for key with the current time.
func (s *RedisStore) SaveBackup(ctx context.Context, key Key, state string) error {
	return s.saveBackupAt(ctx, key, state, time.Now())
}

func (s *RedisStore) saveBackupAt(ctx context.Context, key Key, state string, ts time.Time) error {
	payload, err := json.Marshal(Backup{State: state, Timestamp: ts})
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}
	// No TTL: stale backups are kept until explicit dismissal or a confirmed
	// save clears them.
	if err := s.client.Set(ctx, s.storageKey(key), payload, 0).Err(); err != nil {
		return fmt.Errorf("save backup: %w", err)
	}
	return nil
}

// GetBackup returns the stored backup for key, or nil if none exists.
func (s *RedisStore) GetBackup(ctx context.Context, key Key) (*Backup, error) {
	raw, err := s.client.Get(ctx, s.storageKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup: %w", err)
	}

	var backup Backup
	if err := json.Unmarshal([]byte(raw), &backup); err != nil {
		return nil, fmt.Errorf("unmarshal backup: %w", err)
	}
	return &backup, nil
}

// HasBackup reports whether a backup exists for key.
func (s *RedisStore) HasBackup(ctx context.Context, key Key) (bool, error) {
	count, err := s.client.Exists(ctx, s.storageKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check backup: %w", err)
	}
	return count > 0, nil
}

// ClearBackup removes the backup for key. Clearing a missing backup is not
// an error.
func (s *RedisStore) ClearBackup(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.storageKey(key)).Err(); err != nil {
		return fmt.Errorf("clear backup: %w", err)
	}
	return nil
}

// ShouldOffer reports whether a backup is fresh enough to prompt the user
// with a restore-or-discard choice on editor mount.
func (s *RedisStore) ShouldOffer(backup *Backup) bool {
	if backup == nil {
		return false
	}
	return time.Since(backup.Timestamp) < s.freshness
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

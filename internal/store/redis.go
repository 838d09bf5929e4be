package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/redis"
)

// RedisAdStore stores ads as JSON strings with an expiry
type RedisAdStore struct {
	client *redis.Client
}

// NewRedisAdStore creates a Redis-backed ad store
func NewRedisAdStore(client *redis.Client) *RedisAdStore {
	return &RedisAdStore{client: client}
}

// Put implements AdStore
func (s *RedisAdStore) Put(ctx context.Context, ad *StoredAd, ttl time.Duration) error {
	id := ad.ID()
	if id == "" {
		return fmt.Errorf("ad has no id")
	}
	data, err := json.Marshal(ad)
	if err != nil {
		return fmt.Errorf("failed to marshal ad %s: %w", id, err)
	}
	if err := s.client.Set(ctx, adKeyPrefix+id, data, ttl); err != nil {
		return fmt.Errorf("failed to store ad %s: %w", id, err)
	}
	return nil
}

// Get implements AdStore
func (s *RedisAdStore) Get(ctx context.Context, id string) (*StoredAd, error) {
	value, found, err := s.client.Get(ctx, adKeyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("failed to get ad %s: %w", id, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return decodeAd(id, value)
}

// Take implements AdStore with GETDEL so concurrent shows cannot both win
func (s *RedisAdStore) Take(ctx context.Context, id string) (*StoredAd, error) {
	value, found, err := s.client.GetDel(ctx, adKeyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("failed to take ad %s: %w", id, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return decodeAd(id, value)
}

func decodeAd(id, value string) (*StoredAd, error) {
	var ad StoredAd
	if err := json.Unmarshal([]byte(value), &ad); err != nil {
		return nil, fmt.Errorf("failed to decode ad %s: %w", id, err)
	}
	return &ad, nil
}

// RedisPlacementLocker holds placement locks with SET NX and keeps an
// owner index so a lock can be released by ad ID alone
type RedisPlacementLocker struct {
	client *redis.Client
}

// NewRedisPlacementLocker creates a Redis-backed placement locker
func NewRedisPlacementLocker(client *redis.Client) *RedisPlacementLocker {
	return &RedisPlacementLocker{client: client}
}

// Acquire implements PlacementLocker
func (l *RedisPlacementLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+key, owner, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to lock placement %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := l.client.Set(ctx, ownerKeyPrefix+owner, key, ttl); err != nil {
		_ = l.client.Del(ctx, lockKeyPrefix+key)
		return false, fmt.Errorf("failed to index placement %s: %w", key, err)
	}
	return true, nil
}

// releaseScript deletes the lock only while it still names the owner
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript moves the expiry of the lock and its owner index together
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
return 1
`)

// Refresh implements PlacementLocker
func (l *RedisPlacementLocker) Refresh(ctx context.Context, owner string, ttl time.Duration) error {
	key, found, err := l.client.Get(ctx, ownerKeyPrefix+owner)
	if err != nil {
		return fmt.Errorf("failed to refresh placement of %s: %w", owner, err)
	}
	if !found {
		return nil
	}
	_, err = l.client.RunScript(ctx, refreshScript,
		[]string{lockKeyPrefix + key, ownerKeyPrefix + owner}, owner, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to refresh placement %s: %w", key, err)
	}
	return nil
}

// Release implements PlacementLocker. The lock is only deleted while owner still holds it.
func (l *RedisPlacementLocker) Release(ctx context.Context, owner string) error {
	key, found, err := l.client.GetDel(ctx, ownerKeyPrefix+owner)
	if err != nil {
		return fmt.Errorf("failed to release placement of %s: %w", owner, err)
	}
	if !found {
		return nil
	}
	if _, err := l.client.RunScript(ctx, releaseScript, []string{lockKeyPrefix + key}, owner); err != nil {
		return fmt.Errorf("failed to release placement %s: %w", key, err)
	}
	return nil
}

// RedisStatusStore keeps network statuses in a single hash
type RedisStatusStore struct {
	client *redis.Client
}

// NewRedisStatusStore creates a Redis-backed status store
func NewRedisStatusStore(client *redis.Client) *RedisStatusStore {
	return &RedisStatusStore{client: client}
}

// SetStatus implements StatusStore
func (s *RedisStatusStore) SetStatus(ctx context.Context, network, status string) error {
	return s.client.HSet(ctx, statusHashKey, network, status)
}

// Status returns the status of one network, or "" when it was never initialized
func (s *RedisStatusStore) Status(ctx context.Context, network string) (string, error) {
	return s.client.HGet(ctx, statusHashKey, network)
}

// Statuses implements StatusStore
func (s *RedisStatusStore) Statuses(ctx context.Context) (map[string]string, error) {
	return s.client.HGetAll(ctx, statusHashKey)
}

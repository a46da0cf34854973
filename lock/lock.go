// Package lock provides the process-wide distributed mutual exclusion
// primitive. A lock is a Redis key with a native TTL: expired holders
// are reaped by the store itself, and acquisition is a single atomic
// create-if-absent, so concurrent attempts have exactly one winner.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

const keyPrefix = "kd:lock:"

// renewScript extends the TTL only while this owner still holds the lock.
var renewScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// releaseScript deletes the lock only while this owner still holds it.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// Manager acquires named distributed locks.
type Manager struct {
	client *goredis.Client
}

// NewManager creates a lock manager from a Redis connection URL.
func NewManager(url string) (*Manager, error) {
	if url == "" {
		return nil, errors.New("lock manager requires a redis URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("lock manager: invalid redis URL: %w", err)
	}
	return &Manager{client: goredis.NewClient(opts)}, nil
}

// NewManagerWithClient wraps an existing client. Used by tests.
func NewManagerWithClient(client *goredis.Client) *Manager {
	return &Manager{client: client}
}

// Close releases the underlying client.
func (m *Manager) Close() error { return m.client.Close() }

// TryAcquire attempts to take the named lock for ttl. Returns nil when
// another live owner holds it. Expired entries are replaced implicitly:
// the store deletes them at their TTL.
func (m *Manager) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Handle, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %v", ttl)
	}
	owner := uuid.NewString()
	ok, err := m.client.SetNX(ctx, keyPrefix+name, owner, ttl).Result()
	if err != nil {
		return nil, types.NewStorageError(types.ErrTransient, "lock-acquire", name, err)
	}
	if !ok {
		return nil, nil
	}
	return &Handle{manager: m, name: name, owner: owner}, nil
}

// Handle represents held ownership of a named lock.
type Handle struct {
	manager *Manager
	name    string
	owner   string
}

// Name returns the lock name.
func (h *Handle) Name() string { return h.name }

// TryRenew extends the TTL. When another owner now holds the lock (this
// handle expired and someone else acquired it) the error matches
// types.ErrLostOwnership.
func (h *Handle) TryRenew(ctx context.Context, ttl time.Duration) error {
	ok, err := renewScript.Run(ctx, h.manager.client,
		[]string{keyPrefix + h.name}, h.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return types.NewStorageError(types.ErrTransient, "lock-renew", h.name, err)
	}
	if ok != 1 {
		return types.NewStorageError(types.ErrLostOwnership, "lock-renew", h.name,
			errors.New("another owner holds the lock"))
	}
	return nil
}

// Release deletes the lock if still owned. Releasing a lost or expired
// lock is a no-op.
func (h *Handle) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, h.manager.client,
		[]string{keyPrefix + h.name}, h.owner).Int()
	if err != nil {
		return types.NewStorageError(types.ErrTransient, "lock-release", h.name, err)
	}
	return nil
}

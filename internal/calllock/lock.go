package calllock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker is a short-TTL mutual-exclusion primitive keyed by recipient. It is
// the sole mechanism preventing two near-simultaneous call attempts at the
// same recipient from both reaching ringing.
//
// Safety properties:
// - Acquire is atomic (SET NX PX).
// - Release only succeeds for the current holder (Lua compare-and-delete),
//   so a stale release from a superseded attempt cannot free a newer
//   holder's lock.
// - The TTL is a crash-safety backstop: if the holding process dies mid
//   call-setup, the lock self-expires instead of blocking the recipient
//   forever.
type Locker struct {
	rdb Client
	ttl time.Duration
}

// Client is the slice of the Redis API the locker uses. *redis.Client
// satisfies it; tests supply a scripted double implementing the same
// compare-and-delete semantics.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	redis.Scripter
}

const keyPrefix = "calllock:"

var releaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = expected holder
-- Delete only if the current value matches the expected holder.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

func New(rdb Client, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl}
}

func key(recipientID string) string { return keyPrefix + recipientID }

// Acquire grants the exclusive right to ring recipientID to holderID.
// Backend unavailability fails closed: the caller is denied rather than two
// concurrent calls being silently allowed.
func (l *Locker) Acquire(ctx context.Context, recipientID, holderID string) (bool, error) {
	if recipientID == "" || holderID == "" {
		return false, fmt.Errorf("calllock: recipient and holder are required")
	}
	ok, err := l.rdb.SetNX(ctx, key(recipientID), holderID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("calllock: acquire failed: %w", err)
	}
	return ok, nil
}

// Release frees the lock if holderID still owns it. Returns false when the
// lock expired or was taken over by a newer holder.
func (l *Locker) Release(ctx context.Context, recipientID, holderID string) (bool, error) {
	if recipientID == "" || holderID == "" {
		return false, fmt.Errorf("calllock: recipient and holder are required")
	}
	res, err := releaseScript.Run(ctx, l.rdb, []string{key(recipientID)}, holderID).Int()
	if err != nil {
		return false, fmt.Errorf("calllock: release failed: %w", err)
	}
	return res == 1, nil
}

// Holder returns the current lock holder, if any. Used by the admin call
// status surface; correctness never depends on this read.
func (l *Locker) Holder(ctx context.Context, recipientID string) (string, bool, error) {
	v, err := l.rdb.Get(ctx, key(recipientID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

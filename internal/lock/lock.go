// Package lock provides the distributed-lock primitive spec.md lists as
// an opaque external collaborator (§1): acquire/renew/release with TTL.
// Backed by Redis (github.com/redis/go-redis/v9), grounded on the
// yungbote-neurobridge-backend stack's use of redis for coordination —
// the teacher repo (iluha78-FD) has no distributed-lock dependency of its
// own.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Renew/Release when the caller's token no
// longer matches the lock (lost to TTL expiry or another holder).
var ErrNotHeld = errors.New("lock: not held")

// Handle represents a held lock; it must be renewed while the critical
// section is open and released on success or failure (spec §5).
type Handle struct {
	key   string
	token string
	ttl   time.Duration
	cli   *redis.Client
}

// Locker acquires/renews/releases TTL-leased locks over a shared key
// space, implementing spec §4.4 and §4.10's distributed-lock
// requirement.
type Locker struct {
	cli *redis.Client
}

func New(cli *redis.Client) *Locker {
	return &Locker{cli: cli}
}

const defaultTTL = 30 * time.Second

// TryAcquire attempts a non-blocking acquire of key with the given TTL.
// Returns (nil, false, nil) if another holder has the lock.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Handle, bool, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, redisKey(key), token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Handle{key: key, token: token, ttl: ttl, cli: l.cli}, true, nil
}

// AcquireOrWait polls with exponential backoff (capped) until the lock
// is acquired or ctx is done, matching spec §4.10's "waiting workers poll
// with backoff" requirement.
func (l *Locker) AcquireOrWait(ctx context.Context, key string, ttl time.Duration, maxBackoff time.Duration) (*Handle, error) {
	backoff := 100 * time.Millisecond
	for {
		h, ok, err := l.TryAcquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock wait %s: %w", key, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// compareAndDel is a Lua script so release only deletes a key this
// handle actually still owns (avoids releasing a lock someone else
// re-acquired after our TTL expired).
var compareAndDelScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

var compareAndExpireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Renew extends the lock's TTL; returns ErrNotHeld if the lock was lost
// (per spec §5, this must be treated as a failure by the caller, not
// silently ignored).
func (h *Handle) Renew(ctx context.Context) error {
	n, err := compareAndExpireScript.Run(ctx, h.cli, []string{redisKey(h.key)}, h.token, h.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("lock renew %s: %w", h.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release drops the lock if still held by this handle.
func (h *Handle) Release(ctx context.Context) error {
	n, err := compareAndDelScript.Run(ctx, h.cli, []string{redisKey(h.key)}, h.token).Int64()
	if err != nil {
		return fmt.Errorf("lock release %s: %w", h.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// KeepAlive renews the lock on an interval (ttl/3) until ctx is
// cancelled or a renewal fails, reporting lost-lock failures on errCh.
// Callers select on errCh alongside their critical-section work so lock
// loss under load surfaces promptly (spec §5).
func (h *Handle) KeepAlive(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		interval := h.ttl / 3
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				errCh <- nil
				return
			case <-ticker.C:
				if err := h.Renew(ctx); err != nil {
					errCh <- err
					return
				}
			}
		}
	}()
	return errCh
}

func redisKey(key string) string {
	return "vclip:lock:" + key
}

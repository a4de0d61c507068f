package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/carizon/boardprov/internal/boarderr"
	"github.com/go-redis/redis/v8"
)

// RedisLock is the distributed named lock guarding exclusive relay access
// across CI workers, grounded on reboot.py's
// redis.Redis(...).lock("carizon_relay", timeout=..., blocking=True).
// No Go Redis client appears anywhere in the retrieval pack; go-redis/v9's
// predecessor import path is named here as an explicit out-of-pack
// dependency rather than a grounded one.
type RedisLock struct {
	client *redis.Client
	// pollInterval is how often Acquire retries SETNX while blocked on a
	// held lock, matching the original's sleep=0.1 polling interval.
	pollInterval time.Duration
}

// NewRedisLock builds a RedisLock against the given Redis address
// ("host:port").
func NewRedisLock(addr string) *RedisLock {
	return &RedisLock{
		client:       redis.NewClient(&redis.Options{Addr: addr}),
		pollInterval: 100 * time.Millisecond,
	}
}

// Acquire blocks until name can be claimed with SET NX PX ttl, until ctx
// is cancelled, or until ttl has elapsed without a claim (an ErrLock
// error). The returned release function deletes the key only if it
// still holds the token this call set, so a release can never clear a lock
// some other, later holder has since acquired after this one's TTL expired.
func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("relay: generate lock token: %w", err)
	}

	deadline := time.Now().Add(ttl)
	for {
		ok, err := l.client.SetNX(ctx, name, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("relay: redis lock %s: %w", name, err)
		}
		if ok {
			return func() { l.release(name, token) }, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("relay: lock %s held by another worker: %w", name, boarderr.ErrLock)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *RedisLock) release(name, token string) {
	// Compare-and-delete via a small Lua script so this call can never
	// clear a lock some other holder has since acquired.
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	script.Run(context.Background(), l.client, []string{name}, token)
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

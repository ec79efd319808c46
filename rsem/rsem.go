//go:build !solution

// Package rsem implements a distributed counting semaphore on redis, for
// limiting concurrency across processes with the same acquire/release
// discipline as the in-process semaphore.
package rsem

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// holderTTL автоматически освобождает слот умершего процесса.
	holderTTL       = time.Second
	refreshInterval = 300 * time.Millisecond
	retryInterval   = 10 * time.Millisecond
)

// acquireScript takes one slot if fewer than limit holders are alive.
// KEYS[1] is a sorted set of holder ids scored by expiry time;
// ARGV: now (ms), ttl (ms), limit, holder id.
var acquireScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[1] + ARGV[2], ARGV[4])
	return 1
end
return 0
`)

// refreshScript pushes the holder's expiry forward, but only while the
// holder is still a member: an expired holder must not resurrect itself.
// ARGV: now (ms), ttl (ms), holder id.
var refreshScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[3]) then
	redis.call('ZADD', KEYS[1], 'XX', ARGV[1] + ARGV[2], ARGV[3])
	return 1
end
return 0
`)

// Semaphore is a counting semaphore shared by processes through redis.
type Semaphore struct {
	rdb redis.UniversalClient
	log *zap.Logger
}

// New creates a semaphore backed by rdb. A nil logger disables logging.
func New(rdb redis.UniversalClient, log *zap.Logger) *Semaphore {
	if log == nil {
		log = zap.NewNop()
	}
	return &Semaphore{rdb: rdb, log: log}
}

// Acquire takes one of limit slots of the semaphore named key, retrying
// until a slot frees up or ctx is cancelled. The slot is kept alive by a TTL
// heartbeat and is released either by the returned function or automatically
// when ctx is cancelled.
func (s *Semaphore) Acquire(
	ctx context.Context,
	key string,
	limit int,
) (release func() error, err error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	holder := hex.EncodeToString(raw)

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := s.tryAcquire(ctx, key, holder, limit)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	done := make(chan struct{})
	doRelease := func() {
		once.Do(func() {
			close(done)
			// Release must not depend on the acquire ctx still being alive.
			if err := s.rdb.ZRem(context.Background(), key, holder).Err(); err != nil {
				s.log.Warn("releasing slot", zap.String("key", key), zap.Error(err))
			}
		})
	}

	go s.heartbeat(ctx, key, holder, done, doRelease)

	return func() error {
		doRelease()
		return nil
	}, nil
}

func (s *Semaphore) tryAcquire(ctx context.Context, key, holder string, limit int) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := acquireScript.Run(ctx, s.rdb,
		[]string{key}, now, holderTTL.Milliseconds(), limit, holder).Int()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}
	return res == 1, nil
}

// heartbeat refreshes the holder's expiry until the slot is released, and
// releases it itself when ctx is cancelled.
func (s *Semaphore) heartbeat(ctx context.Context, key, holder string, done <-chan struct{}, release func()) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			release()
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			err := refreshScript.Run(context.Background(), s.rdb,
				[]string{key}, now, holderTTL.Milliseconds(), holder).Err()
			if err != nil {
				s.log.Warn("refreshing slot ttl", zap.String("key", key), zap.Error(err))
			}
		}
	}
}

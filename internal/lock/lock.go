package lock

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when a lock could not be taken before the context expired
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker serializes work per key. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker is a striped in-process mutex keyed by string
type LocalLocker struct {
	stripes []sync.Mutex
}

// NewLocalLocker creates a LocalLocker with the given number of stripes
func NewLocalLocker(stripes int) *LocalLocker {
	if stripes <= 0 {
		stripes = 64
	}
	return &LocalLocker{stripes: make([]sync.Mutex, stripes)}
}

// Lock blocks until the stripe owning key is free
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]

	acquired := make(chan struct{})
	go func() {
		mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return mu.Unlock, nil
	case <-ctx.Done():
		// hand the mutex back once the pending Lock completes
		go func() {
			<-acquired
			mu.Unlock()
		}()
		return nil, ErrNotAcquired
	}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX lock shared by every service instance using the same Redis
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	local  *LocalLocker
}

// NewRedisLocker creates a RedisLocker. Keys are namespaced with prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		local:  NewLocalLocker(64),
	}
}

// Lock takes the local stripe first so goroutines of one process do not spin on Redis
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := l.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			unlockLocal()
			return nil, err
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token)
				unlockLocal()
			}, nil
		}

		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ErrNotAcquired
		case <-ticker.C:
		}
	}
}

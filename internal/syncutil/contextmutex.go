package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const contextShards = 256

// ContextShardedMutex is a fixed pool of channel-based mutexes keyed by
// string. Unlike ShardedMutex, a waiter can give up when its context is
// cancelled, which matters when the holder may keep the lock for a long
// settlement confirmation wait.
type ContextShardedMutex struct {
	shards [contextShards]chan struct{}
	once   sync.Once
}

// NewContextShardedMutex creates a context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{} // start unlocked
		}
	})
}

// LockContext acquires the lock for key or fails with the context's error.
// On success the returned function releases the lock and must be called.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	ch := m.shards[m.shardIdx(key)]

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *ContextShardedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % contextShards
}

// Package syncutil holds small concurrency primitives.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used when none is given.
const DefaultShards = 256

// KeyedMutex is a fixed pool of mutexes selected by key hash. Memory stays
// bounded however many keys are seen; keys sharing a shard contend. Each
// shard is a one-slot channel so waiters can give up when their context ends.
type KeyedMutex struct {
	shards []chan struct{}
}

// NewKeyedMutex creates a KeyedMutex with n shards (DefaultShards if n <= 0).
func NewKeyedMutex(n int) *KeyedMutex {
	if n <= 0 {
		n = DefaultShards
	}
	m := &KeyedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// LockContext blocks until the shard for key is free or ctx is done. The
// returned unlock func must be called exactly once.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shard(key)
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the shard for key only if it is free.
func (m *KeyedMutex) TryLock(key string) (func(), bool) {
	shard := m.shard(key)
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, true
	default:
		return nil, false
	}
}

func (m *KeyedMutex) shard(key string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

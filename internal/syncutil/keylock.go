// Package syncutil holds locking helpers shared by the services.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used by NewKeyLock.
const DefaultShards = 256

// KeyLock serializes work per string key using a fixed pool of
// channel-based mutexes. Memory stays bounded however many keys are seen;
// two keys may share a shard and wait on each other.
type KeyLock struct {
	shards []chan struct{}
}

// NewKeyLock creates a KeyLock with DefaultShards shards.
func NewKeyLock() *KeyLock {
	return NewKeyLockShards(DefaultShards)
}

// NewKeyLockShards creates a KeyLock with n shards (at least one).
func NewKeyLockShards(n int) *KeyLock {
	if n < 1 {
		n = 1
	}
	l := &KeyLock{shards: make([]chan struct{}, n)}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
		l.shards[i] <- struct{}{}
	}
	return l
}

// Lock waits for key's shard. It returns an unlock func the caller must
// call, or ctx.Err() if ctx ends first.
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	shard := l.shards[l.shardIdx(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *KeyLock) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % uint32(len(l.shards))
}

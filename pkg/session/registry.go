package session

import (
	"hash/fnv"
	"sync"

	"salescoach-server/pkg/errors"
)

// Registry is the process-wide map from call ID to live session. It is
// sharded to reduce lock contention when many calls connect and disconnect
// concurrently. Insertion happens on connection open, removal on close.
type Registry struct {
	shards    []*registryShard
	shardMask uint32
}

type registryShard struct {
	mu    sync.RWMutex
	items map[string]*Session
}

// NewRegistry creates a registry with the given shard count. The count must
// be a power of two; invalid counts fall back to 16 shards.
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 || (shardCount&(shardCount-1)) != 0 {
		shardCount = 16
	}

	r := &Registry{
		shards:    make([]*registryShard, shardCount),
		shardMask: uint32(shardCount - 1),
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{items: make(map[string]*Session)}
	}
	return r
}

func (r *Registry) shard(callID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return r.shards[h.Sum32()&r.shardMask]
}

// Add registers a session under its call ID. A second session for the same
// call is rejected; one connection owns one call.
func (r *Registry) Add(s *Session) error {
	shard := r.shard(s.CallID())
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.items[s.CallID()]; exists {
		return errors.ErrCallAlreadyExists
	}
	shard.items[s.CallID()] = s
	return nil
}

// Get returns the live session for a call ID.
func (r *Registry) Get(callID string) (*Session, bool) {
	shard := r.shard(callID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	s, ok := shard.items[callID]
	return s, ok
}

// Remove drops the registry entry. Removing an absent ID is a no-op.
func (r *Registry) Remove(callID string) {
	shard := r.shard(callID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.items, callID)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	count := 0
	for _, shard := range r.shards {
		shard.mu.RLock()
		count += len(shard.items)
		shard.mu.RUnlock()
	}
	return count
}

// Range calls f for each live session until f returns false.
func (r *Registry) Range(f func(callID string, s *Session) bool) {
	for _, shard := range r.shards {
		shard.mu.RLock()
		for id, s := range shard.items {
			if !f(id, s) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}

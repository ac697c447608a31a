/*
keylock.go - Per-key critical sections

PURPOSE:
  One single-token semaphore per (cashier, currency). Waiting honours the
  caller's context; different keys never share a semaphore.

SEE ALSO:
  - engine.go: Apply and the locked balance reads
  - audit.go: checks each key under its semaphore
*/
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/warp/cashdesk/cash"
	"github.com/warp/cashdesk/cash/store"
)

// slot serializes one key. Holding the token in sem is holding the key;
// lastAt and seeded are only touched by the holder.
type slot struct {
	sem    chan struct{}
	lastAt time.Time
	seeded bool
}

func (s *slot) release() { <-s.sem }

// keyLocks hands out one slot per key. Slots are created on first use and
// live as long as the engine, matching the lifetime of balances.
type keyLocks struct {
	shards []*lockShard
	mask   uint32
}

type lockShard struct {
	mu    sync.Mutex
	slots map[cash.Key]*slot
}

func newKeyLocks(n int) *keyLocks {
	size := 1
	for size < n {
		size <<= 1
	}
	k := &keyLocks{shards: make([]*lockShard, size), mask: uint32(size - 1)}
	for i := range k.shards {
		k.shards[i] = &lockShard{slots: make(map[cash.Key]*slot)}
	}
	return k
}

func (k *keyLocks) slot(key cash.Key) *slot {
	sh := k.shards[store.ShardIndex(key)&k.mask]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		sh.slots[key] = s
	}
	return s
}

// acquire blocks until key is free or ctx is done. A cancelled ctx never
// acquires, even if the slot happens to be free.
func (k *keyLocks) acquire(ctx context.Context, key cash.Key) (*slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := k.slot(key)
	select {
	case s.sem <- struct{}{}:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Package store provides in-memory implementations of the cash storage
// interfaces.
package store

import (
	"context"
	"hash/fnv"
	"iter"
	"sort"
	"sync"

	"github.com/warp/cashdesk/cash"
)

// =============================================================================
// MEMORY LOG - In-memory transaction log (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	records   []cash.TransactionRecord
	byCashier map[string][]int // positions into records
}

func NewMemory() *Memory {
	return &Memory{byCashier: make(map[string][]int)}
}

// Append adds a record. Append-only.
func (m *Memory) Append(_ context.Context, r cash.TransactionRecord) (cash.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.Seq = uint64(len(m.records)) + 1
	r.Denominations = r.Denominations.Clone()
	m.records = append(m.records, r)
	m.byCashier[r.CashierID] = append(m.byCashier[r.CashierID], len(m.records)-1)
	return cloneRecord(r), nil
}

// Records yields a copy of the matching records taken when iteration starts.
func (m *Memory) Records(ctx context.Context, f cash.Filter) iter.Seq2[cash.TransactionRecord, error] {
	return func(yield func(cash.TransactionRecord, error) bool) {
		for _, r := range m.snapshot(f) {
			if err := ctx.Err(); err != nil {
				yield(cash.TransactionRecord{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (m *Memory) snapshot(f cash.Filter) []cash.TransactionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []cash.TransactionRecord
	if f.CashierID != "" {
		for _, i := range m.byCashier[f.CashierID] {
			if f.Match(m.records[i]) {
				out = append(out, cloneRecord(m.records[i]))
			}
		}
		return out
	}
	for _, r := range m.records {
		if f.Match(r) {
			out = append(out, cloneRecord(r))
		}
	}
	return out
}

// Len returns the number of records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func cloneRecord(r cash.TransactionRecord) cash.TransactionRecord {
	r.Denominations = r.Denominations.Clone()
	return r
}

// =============================================================================
// SHARDED BALANCES - In-memory balance store
// =============================================================================

const DefaultShards = 32

// Balances is a key-partitioned map. Each shard has its own lock, so puts
// to keys in different shards never contend.
type Balances struct {
	shards []*balanceShard
	mask   uint32
}

type balanceShard struct {
	mu       sync.RWMutex
	balances map[cash.Key]cash.Balance
}

// NewBalances creates a store with n shards, rounded up to a power of two.
func NewBalances(n int) *Balances {
	size := 1
	for size < n {
		size <<= 1
	}
	b := &Balances{shards: make([]*balanceShard, size), mask: uint32(size - 1)}
	for i := range b.shards {
		b.shards[i] = &balanceShard{balances: make(map[cash.Key]cash.Balance)}
	}
	return b
}

func (b *Balances) shard(key cash.Key) *balanceShard {
	return b.shards[ShardIndex(key)&b.mask]
}

// ShardIndex hashes a key with FNV-1a.
func ShardIndex(key cash.Key) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key.CashierID))
	h.Write([]byte{0})
	h.Write([]byte(key.Currency))
	return h.Sum32()
}

func (b *Balances) Get(_ context.Context, key cash.Key) (cash.Balance, error) {
	s := b.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.balances[key]
	if !ok {
		return cash.ZeroBalance(key.Currency), nil
	}
	return bal.Clone(), nil
}

func (b *Balances) Put(_ context.Context, key cash.Key, balance cash.Balance) error {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[key] = balance.Clone()
	return nil
}

func (b *Balances) List(_ context.Context, cashierID string) ([]cash.Balance, error) {
	var out []cash.Balance
	for _, s := range b.shards {
		s.mu.RLock()
		for k, bal := range s.balances {
			if k.CashierID == cashierID {
				out = append(out, bal.Clone())
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (b *Balances) Keys(_ context.Context) ([]cash.Key, error) {
	var out []cash.Key
	for _, s := range b.shards {
		s.mu.RLock()
		for k := range s.balances {
			out = append(out, k)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CashierID != out[j].CashierID {
			return out[i].CashierID < out[j].CashierID
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

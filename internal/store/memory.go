package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/linkwise/attribution-engine/internal/model"
)

const shardCount = 16

// memoryShard holds one slice of the keyspace under its own lock, so
// concurrent ladder evaluations for different users never contend on a
// global mutex.
type memoryShard struct {
	mu        sync.RWMutex
	postbacks map[string]model.PostbackRecord
	history   map[string][]model.OpportunityRecord
}

// MemoryStore is the default Store backend: a key-sharded in-memory map
// with TTL enforcement on read and on sweep.
type MemoryStore struct {
	shards [shardCount]*memoryShard
	now    func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &memoryShard{
			postbacks: make(map[string]model.PostbackRecord),
			history:   make(map[string][]model.OpportunityRecord),
		}
	}
	return s
}

// WithNow sets a fixed clock for testing.
func (s *MemoryStore) WithNow(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) shard(userID string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) SavePostback(_ context.Context, rec model.PostbackRecord) error {
	sh := s.shard(rec.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.postbacks[rec.UserID] = rec
	return nil
}

func (s *MemoryStore) GetPostback(_ context.Context, userID string) (*model.PostbackRecord, error) {
	sh := s.shard(userID)
	sh.mu.RLock()
	rec, ok := sh.postbacks[userID]
	sh.mu.RUnlock()
	if !ok || rec.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) DeleteExpiredPostbacks(_ context.Context) (int, error) {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for userID, rec := range sh.postbacks {
			if rec.Expired(now) {
				delete(sh.postbacks, userID)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

func (s *MemoryStore) RecordOpportunity(_ context.Context, userID string, rec model.OpportunityRecord) error {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.history[userID] = append(sh.history[userID], rec)
	return nil
}

func (s *MemoryStore) RecentOpportunities(_ context.Context, userID string, since time.Time, limit int) ([]model.OpportunityRecord, error) {
	sh := s.shard(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var out []model.OpportunityRecord
	for _, rec := range sh.history[userID] {
		if rec.Timestamp.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TopPublisherMerchant(_ context.Context, userID string) (string, string, error) {
	sh := s.shard(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	counts := make(map[[2]string]int)
	for _, rec := range sh.history[userID] {
		if rec.PublisherID == "" || rec.MerchantID == "" {
			continue
		}
		counts[[2]string{rec.PublisherID, rec.MerchantID}]++
	}
	if len(counts) == 0 {
		return "", "", ErrNotFound
	}

	var best [2]string
	bestN := -1
	for pair, n := range counts {
		if n > bestN || (n == bestN && pair[0] < best[0]) {
			best, bestN = pair, n
		}
	}
	return best[0], best[1], nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

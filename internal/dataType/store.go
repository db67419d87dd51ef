package dataType

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Store is the key-value backend shared by the rate limiter and the honeypot
// (field name, spam counters). Implementations must be safe for concurrent
// use. A ttl <= 0 means the entry never expires.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	ForEach(ctx context.Context, prefix string, fn func(key, value string) error) error
	Close() error
}

type memoryEntry struct {
	value     string
	expiresAt int64 // unix seconds, 0 = no expiry
}

func (e memoryEntry) expired(now int64) bool {
	return e.expiresAt != 0 && e.expiresAt <= now
}

type storeBucket struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// MemoryStore is the in-process Store: entries sharded over mutex-guarded
// buckets picked by key hash, expired entries dropped lazily on read and by
// the periodic GC sweep.
type MemoryStore struct {
	buckets     []*storeBucket
	bucketCount uint64
}

// NewMemoryStore creates a store sharded over bucketCount buckets.
func NewMemoryStore(bucketCount int) *MemoryStore {
	if bucketCount <= 0 {
		bucketCount = 64
	}
	s := &MemoryStore{
		buckets:     make([]*storeBucket, bucketCount),
		bucketCount: uint64(bucketCount),
	}
	for i := 0; i < bucketCount; i++ {
		s.buckets[i] = &storeBucket{entries: make(map[string]memoryEntry)}
	}
	return s
}

func (s *MemoryStore) getBucket(key string) *storeBucket {
	h := xxhash.Sum64String(key)
	return s.buckets[h%s.bucketCount]
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	bucket := s.getBucket(key)
	bucket.mu.RLock()
	defer bucket.mu.RUnlock()
	entry, ok := bucket.entries[key]
	if !ok || entry.expired(time.Now().Unix()) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	bucket := s.getBucket(key)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	bucket.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	bucket := s.getBucket(key)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	delete(bucket.entries, key)
	return nil
}

// Incr atomically increments the integer entry at key, creating it at 1 with
// the given ttl when missing or expired. The ttl of an existing live entry is
// left untouched.
func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()
	bucket := s.getBucket(key)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	entry, ok := bucket.entries[key]
	if !ok || entry.expired(now.Unix()) {
		var expiresAt int64
		if ttl > 0 {
			expiresAt = now.Add(ttl).Unix()
		}
		bucket.entries[key] = memoryEntry{value: "1", expiresAt: expiresAt}
		return 1, nil
	}
	n, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	bucket.entries[key] = entry
	return n, nil
}

func (s *MemoryStore) ForEach(_ context.Context, prefix string, fn func(key, value string) error) error {
	now := time.Now().Unix()
	type pair struct{ key, value string }
	var matched []pair
	for _, bucket := range s.buckets {
		bucket.mu.RLock()
		for key, entry := range bucket.entries {
			if entry.expired(now) {
				continue
			}
			if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				matched = append(matched, pair{key, entry.value})
			}
		}
		bucket.mu.RUnlock()
	}
	for _, p := range matched {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// GC removes expired entries.
func (s *MemoryStore) GC() {
	now := time.Now().Unix()
	for _, bucket := range s.buckets {
		bucket.mu.Lock()
		for key, entry := range bucket.entries {
			if entry.expired(now) {
				delete(bucket.entries, key)
			}
		}
		bucket.mu.Unlock()
	}
}

// StartStoreGC sweeps the memory store until stopCh closes.
func StartStoreGC(store *MemoryStore, interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			store.GC()
		case <-stopCh:
			return
		}
	}
}

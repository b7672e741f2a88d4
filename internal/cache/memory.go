package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements an in-memory cache with TTL support
type MemoryStore struct {
	items    map[string]*memoryItem
	mu       sync.RWMutex
	maxSize  int
	stopChan chan struct{}
	stopOnce sync.Once

	hits      int64
	misses    int64
	evictions int64
}

type memoryItem struct {
	value      []byte
	expiration time.Time
	accessed   time.Time
}

// NewMemoryStore creates a new memory cache
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}

	ms := &MemoryStore{
		items:    make(map[string]*memoryItem),
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
	}

	go ms.cleanupLoop()

	return ms
}

// Get retrieves a value; the second return reports presence
func (ms *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	item, exists := ms.items[key]
	if !exists || time.Now().After(item.expiration) {
		if exists {
			delete(ms.items, key)
		}
		ms.misses++
		return nil, false, nil
	}

	item.accessed = time.Now()
	ms.hits++

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, true, nil
}

// Set stores a value with a TTL
func (ms *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if len(ms.items) >= ms.maxSize {
		ms.evictOldestLocked()
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	ms.items[key] = &memoryItem{
		value:      stored,
		expiration: time.Now().Add(ttl),
		accessed:   time.Now(),
	}
	return nil
}

// Delete removes a key
func (ms *MemoryStore) Delete(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.items, key)
	return nil
}

// Stats returns hit/miss counters and the current item count
func (ms *MemoryStore) Stats() Stats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return Stats{
		Backend:   "memory",
		ItemCount: len(ms.items),
		Hits:      ms.hits,
		Misses:    ms.misses,
		Evictions: ms.evictions,
	}
}

// Close stops the cleanup goroutine
func (ms *MemoryStore) Close() error {
	ms.stopOnce.Do(func() {
		close(ms.stopChan)
	})
	return nil
}

// evictOldestLocked drops the least recently accessed item
func (ms *MemoryStore) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for key, item := range ms.items {
		if oldestKey == "" || item.accessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.accessed
		}
	}
	if oldestKey != "" {
		delete(ms.items, oldestKey)
		ms.evictions++
	}
}

func (ms *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ms.stopChan:
			return
		case <-ticker.C:
			ms.cleanupExpired()
		}
	}
}

func (ms *MemoryStore) cleanupExpired() {
	now := time.Now()

	ms.mu.Lock()
	defer ms.mu.Unlock()

	for key, item := range ms.items {
		if now.After(item.expiration) {
			delete(ms.items, key)
		}
	}
}

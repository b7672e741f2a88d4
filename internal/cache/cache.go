package cache

import (
	"context"
	"time"
)

// Store is the payload cache used to serve stale-but-usable data while a
// source is failing or emergency-stopped.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Stats() Stats
	Close() error
}

// Stats reports cache effectiveness for the reporting surface
type Stats struct {
	Backend   string `json:"backend"`
	ItemCount int    `json:"item_count"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Evictions int64  `json:"evictions"`
}

// Config selects and parameterizes the cache backend
type Config struct {
	Enabled  bool // redis when true, in-memory otherwise
	Addr     string
	Password string
	DB       int
	PoolSize int
	MaxSize  int
}

// New creates a cache store from config, falling back to memory when redis
// is not configured
func New(cfg *Config) (Store, error) {
	if cfg != nil && cfg.Enabled {
		return NewRedisStore(cfg)
	}
	maxSize := 0
	if cfg != nil {
		maxSize = cfg.MaxSize
	}
	return NewMemoryStore(maxSize), nil
}

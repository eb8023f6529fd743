package ports

import (
	"context"
	"time"
)

// Cache is a small key-value capability. The ingestion orchestrator keeps
// stage checkpoints in it, so writes made inside a unit of work commit with it.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set stores value under key. A zero ttl never expires.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and reports how many.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

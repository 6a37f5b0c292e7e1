package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMiss       = errors.New("cache miss")
	ErrCacheError = errors.New("cache error")
)

// Store is a byte-oriented key/value backend with per-key expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	// Name labels the backend in metrics.
	Name() string
}

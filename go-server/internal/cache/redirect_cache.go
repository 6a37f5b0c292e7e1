package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/metrics"
	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
)

const DefaultTTL = time.Hour

// Entry is the projection of a link needed to answer a redirect. It carries
// no activity flag: only active links are cached and every mutation evicts.
type Entry struct {
	Code         string             `json:"code"`
	Destination  string             `json:"destination"`
	RedirectKind model.RedirectKind `json:"redirect_kind"`
	ExpiresAt    *time.Time         `json:"expires_at,omitempty"`
}

// IsExpired reports whether the cached link had logically expired at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// RedirectCache is the read-path cache-aside layer in front of the link store.
// Reads and writes never fail the caller; only Invalidate reports errors so
// mutation paths can log them.
type RedirectCache struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedirectCache(store Store, ttl time.Duration) *RedirectCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedirectCache{
		store:  store,
		ttl:    ttl,
		logger: zap.L().With(zap.String("component", "RedirectCache")),
	}
}

func (c *RedirectCache) TTL() time.Duration { return c.ttl }

// Get returns the cached entry for code. Backend failures and undecodable
// payloads are reported as a miss.
func (c *RedirectCache) Get(ctx context.Context, code string) (*Entry, bool) {
	raw, err := c.store.Get(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			metrics.CacheErrorsTotal.WithLabelValues(c.store.Name(), "get").Inc()
			c.logger.Warn("Cache error", zap.Error(err), zap.String("code", code))
		}
		metrics.CacheMissesTotal.WithLabelValues(c.store.Name()).Inc()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Destination == "" {
		metrics.CacheErrorsTotal.WithLabelValues(c.store.Name(), "decode").Inc()
		metrics.CacheMissesTotal.WithLabelValues(c.store.Name()).Inc()
		c.logger.Warn("Discarding undecodable cache entry", zap.Error(err), zap.String("code", code))
		if err := c.store.Delete(ctx, code); err != nil {
			c.logger.Warn("Failed to evict cache entry", zap.Error(err), zap.String("code", code))
		}
		return nil, false
	}

	metrics.CacheHitsTotal.WithLabelValues(c.store.Name()).Inc()
	return &entry, true
}

// Put caches the redirect projection of link for the configured TTL.
func (c *RedirectCache) Put(ctx context.Context, link *model.ShortLink) {
	entry := Entry{
		Code:         link.Code,
		Destination:  link.Destination,
		RedirectKind: link.RedirectKind,
		ExpiresAt:    link.ExpiresAt,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("Failed to encode cache entry", zap.Error(err), zap.String("code", link.Code))
		return
	}
	if err := c.store.SetWithTTL(ctx, link.Code, raw, c.ttl); err != nil {
		metrics.CacheErrorsTotal.WithLabelValues(c.store.Name(), "set").Inc()
		c.logger.Warn("Failed to cache link", zap.Error(err), zap.String("code", link.Code))
	}
}

// Invalidate removes code from the cache.
func (c *RedirectCache) Invalidate(ctx context.Context, code string) error {
	if err := c.store.Delete(ctx, code); err != nil {
		metrics.CacheErrorsTotal.WithLabelValues(c.store.Name(), "delete").Inc()
		return err
	}
	return nil
}

func (c *RedirectCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

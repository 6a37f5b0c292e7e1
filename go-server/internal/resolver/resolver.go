package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/cache"
	"github.com/fonsecaaso/linkpulse/go-server/internal/events"
	"github.com/fonsecaaso/linkpulse/go-server/internal/metrics"
	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
	"github.com/fonsecaaso/linkpulse/go-server/internal/repository"
)

var (
	ErrNotFound              = errors.New("short link not found")
	ErrExpired               = errors.New("short link expired")
	ErrDependencyUnavailable = errors.New("link store unavailable")
)

const defaultClickTimeout = 2 * time.Second

// LinkReader is the part of the link store the redirect path needs.
type LinkReader interface {
	GetActiveByCode(ctx context.Context, code string) (*model.ShortLink, error)
	IncrementClicks(ctx context.Context, code string) error
}

// Target is the outcome of a successful resolution.
type Target struct {
	Code         string
	Destination  string
	RedirectKind model.RedirectKind
}

// Visit describes the request that followed a short link.
type Visit struct {
	IPAddress string
	UserAgent string
	Referrer  string
}

// Resolver answers redirect lookups, serving from the cache when it can and
// populating it from the store when it cannot.
type Resolver struct {
	store        LinkReader
	cache        *cache.RedirectCache
	events       events.Publisher
	tracer       trace.Tracer
	clickTimeout time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

type Option func(*Resolver)

func WithClickTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.clickTimeout = d
		}
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func New(store LinkReader, redirectCache *cache.RedirectCache, publisher events.Publisher, opts ...Option) *Resolver {
	r := &Resolver{
		store:        store,
		cache:        redirectCache,
		events:       publisher,
		tracer:       otel.Tracer("github.com/fonsecaaso/linkpulse/resolver"),
		clickTimeout: defaultClickTimeout,
		now:          time.Now,
		logger:       zap.L().With(zap.String("component", "Resolver")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps code to its redirect target. It returns ErrNotFound for
// unknown, disabled or deleted codes, ErrExpired for links past their
// expiry, and ErrDependencyUnavailable when the store cannot be reached.
func (r *Resolver) Resolve(ctx context.Context, code string) (Target, error) {
	ctx, span := r.tracer.Start(ctx, "Resolver.Resolve", trace.WithAttributes(attribute.String("link.code", code)))
	defer span.End()
	start := time.Now()

	if code == "" {
		metrics.RedirectsTotal.WithLabelValues("not_found").Inc()
		return Target{}, ErrNotFound
	}

	if entry, ok := r.cache.Get(ctx, code); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		defer observeResolve("cache", start)

		if entry.IsExpired(r.now()) {
			if err := r.cache.Invalidate(ctx, code); err != nil {
				r.logger.Warn("Failed to evict expired cache entry", zap.Error(err), zap.String("code", code))
			}
			metrics.RedirectsTotal.WithLabelValues("expired").Inc()
			return Target{}, ErrExpired
		}
		metrics.RedirectsTotal.WithLabelValues("found").Inc()
		return Target{Code: entry.Code, Destination: entry.Destination, RedirectKind: entry.RedirectKind}, nil
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))
	defer observeResolve("store", start)

	link, err := r.store.GetActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			metrics.RedirectsTotal.WithLabelValues("not_found").Inc()
			return Target{}, ErrNotFound
		}
		metrics.RedirectsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "store lookup failed")
		r.logger.Error("Failed to load link", zap.Error(err), zap.String("code", code))
		return Target{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	if link.IsExpired(r.now()) {
		metrics.RedirectsTotal.WithLabelValues("expired").Inc()
		return Target{}, ErrExpired
	}

	r.cache.Put(ctx, link)
	metrics.RedirectsTotal.WithLabelValues("found").Inc()
	return Target{Code: link.Code, Destination: link.Destination, RedirectKind: link.RedirectKind}, nil
}

func observeResolve(source string, start time.Time) {
	metrics.RedirectResolveDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// RecordVisit accounts for one successful resolution of code. It is best
// effort: failures are logged and counted, never returned, and a cancelled
// request does not cancel the increment.
func (r *Resolver) RecordVisit(ctx context.Context, code string, visit Visit) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.clickTimeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "Resolver.RecordVisit", trace.WithAttributes(attribute.String("link.code", code)))
	defer span.End()

	if err := r.store.IncrementClicks(ctx, code); err != nil {
		metrics.ClickRecordFailuresTotal.Inc()
		span.RecordError(err)
		r.logger.Warn("Failed to record click", zap.Error(err), zap.String("code", code))
	}

	r.events.Publish(events.New(events.URLAccessed, code, nil, map[string]any{
		"ip_address": visit.IPAddress,
		"user_agent": visit.UserAgent,
		"referrer":   visit.Referrer,
	}))
}

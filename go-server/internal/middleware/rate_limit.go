package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Window() time.Duration
}

// RateLimiter is an in-process fixed window limiter. It is only accurate for
// a single replica; RedisLimiter shares counts across replicas.
type RateLimiter struct {
	requests map[string]*clientBucket
	mutex    sync.RWMutex
	rate     int
	window   time.Duration
	stop     chan struct{}
	once     sync.Once
}

type clientBucket struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(requestsPerWindow int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string]*clientBucket),
		rate:     requestsPerWindow,
		window:   window,
		stop:     make(chan struct{}),
	}

	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) Window() time.Duration { return rl.window }

func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	bucket, exists := rl.requests[key]
	if !exists || now.After(bucket.resetTime) {
		bucket = &clientBucket{resetTime: now.Add(rl.window)}
		rl.requests[key] = bucket
	}

	d := Decision{Limit: rl.rate, ResetAt: bucket.resetTime}
	if bucket.count >= rl.rate {
		return d, nil
	}
	bucket.count++
	d.Allowed = true
	d.Remaining = rl.rate - bucket.count
	return d, nil
}

func (rl *RateLimiter) allow(key string) bool {
	d, _ := rl.Allow(context.Background(), key)
	return d.Allowed
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}

		rl.mutex.Lock()
		now := time.Now()
		for key, bucket := range rl.requests {
			if now.After(bucket.resetTime) {
				delete(rl.requests, key)
			}
		}
		rl.mutex.Unlock()
	}
}

// RedisLimiter keeps fixed window counters in redis so every replica sees
// the same budget.
type RedisLimiter struct {
	client *redis.Client
	rate   int
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, requestsPerWindow int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		rate:   requestsPerWindow,
		window: window,
		prefix: "ratelimit:",
	}
}

func (rl *RedisLimiter) Window() time.Duration { return rl.window }

func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	slot := now.UnixNano() / int64(rl.window)
	redisKey := fmt.Sprintf("%s%s:%d", rl.prefix, key, slot)
	resetAt := time.Unix(0, (slot+1)*int64(rl.window))

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(incr.Val())
	d := Decision{Limit: rl.rate, ResetAt: resetAt}
	if count > rl.rate {
		return d, nil
	}
	d.Allowed = true
	d.Remaining = rl.rate - count
	return d, nil
}

// Middleware limits requests per client IP. Limiter failures let the request
// through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return RateLimit(rl, "api")
}

func RateLimit(l Limiter, scope string) gin.HandlerFunc {
	logger := zap.L().With(zap.String("component", "RateLimiter"), zap.String("scope", scope))

	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		d, err := l.Allow(c.Request.Context(), scope+":"+clientIP)
		if err != nil {
			logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Window", l.Window().String())

		if !d.Allowed {
			retryAfter := math.Ceil(time.Until(d.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.Warn("Rate limit exceeded",
				zap.String("ip", clientIP),
				zap.String("path", c.Request.URL.Path),
			)
			c.Header("Retry-After", strconv.Itoa(int(retryAfter)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"code":        "RATE_LIMIT_EXCEEDED",
				"retry_after": retryAfter,
				"request_id":  GetRequestID(c),
			})
			return
		}

		c.Next()
	}
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func setupTest(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)

	gin.SetMode(gin.TestMode)
}

func newLimiter(t *testing.T, rate int, window time.Duration) *RateLimiter {
	rl := NewRateLimiter(rate, window)
	t.Cleanup(rl.Stop)
	return rl
}

func limitedRouter(l Limiter) *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), RateLimit(l, "test"))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})
	return router
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNewRateLimiter(t *testing.T) {
	setupTest(t)

	rl := newLimiter(t, 10, time.Minute)

	assert.NotNil(t, rl.requests)
	assert.Equal(t, 10, rl.rate)
	assert.Equal(t, time.Minute, rl.Window())
}

func TestRateLimiter_Allow_FirstRequest(t *testing.T) {
	setupTest(t)

	rl := newLimiter(t, 5, time.Minute)
	clientIP := "192.168.1.1"

	d, err := rl.Allow(context.Background(), clientIP)

	assert.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
	assert.Equal(t, 1, rl.requests[clientIP].count)
}

func TestRateLimiter_Allow_MultipleRequests(t *testing.T) {
	setupTest(t)

	rl := newLimiter(t, 5, time.Minute)
	clientIP := "192.168.1.1"

	for i := 0; i < 5; i++ {
		assert.True(t, rl.allow(clientIP), "Request %d should be allowed", i+1)
	}

	assert.False(t, rl.allow(clientIP))
}

func TestRateLimiter_Allow_AfterWindowReset(t *testing.T) {
	setupTest(t)

	rl := newLimiter(t, 2, 100*time.Millisecond)
	clientIP := "192.168.1.1"

	assert.True(t, rl.allow(clientIP))
	assert.True(t, rl.allow(clientIP))
	assert.False(t, rl.allow(clientIP))

	time.Sleep(150 * time.Millisecond)

	assert.True(t, rl.allow(clientIP))
}

func TestRateLimiter_Allow_MultipleClients(t *testing.T) {
	setupTest(t)

	rl := newLimiter(t, 3, time.Minute)
	clients := []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"}

	for i := 0; i < 3; i++ {
		for _, ip := range clients {
			assert.True(t, rl.allow(ip))
		}
	}

	for _, ip := range clients {
		assert.False(t, rl.allow(ip))
	}
}

func TestRateLimit_AllowRequest(t *testing.T) {
	setupTest(t)

	w := get(limitedRouter(newLimiter(t, 5, time.Minute)), "/test")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_BlockRequest(t *testing.T) {
	setupTest(t)

	router := limitedRouter(newLimiter(t, 2, time.Minute))
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/test").Code)
	}

	w := get(router, "/test")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1m0s", w.Header().Get("X-RateLimit-Window"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimit_ErrorResponse(t *testing.T) {
	setupTest(t)

	router := limitedRouter(newLimiter(t, 1, 2*time.Second))
	get(router, "/test")

	w := get(router, "/test")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
	assert.Contains(t, w.Body.String(), `"retry_after":2`)
	assert.Contains(t, w.Body.String(), "request_id")
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("limiter down")
}

func (brokenLimiter) Window() time.Duration { return time.Minute }

func TestRateLimit_FailsOpen(t *testing.T) {
	setupTest(t)

	w := get(limitedRouter(brokenLimiter{}), "/test")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRedisLimiter_UnreachableFailsOpen(t *testing.T) {
	setupTest(t)

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	rl := NewRedisLimiter(client, 1, time.Minute)
	_, err := rl.Allow(context.Background(), "192.168.1.1")
	assert.Error(t, err)

	w := get(limitedRouter(rl), "/test")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	setupTest(t)

	rl := newLimiter(t, 5, 50*time.Millisecond)
	clientIP := "192.168.1.1"

	rl.allow(clientIP)

	rl.mutex.RLock()
	assert.Contains(t, rl.requests, clientIP)
	rl.mutex.RUnlock()

	assert.Eventually(t, func() bool {
		rl.mutex.RLock()
		defer rl.mutex.RUnlock()
		_, ok := rl.requests[clientIP]
		return !ok
	}, time.Second, 20*time.Millisecond)
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	setupTest(t)

	rl := newLimiter(t, 100, time.Minute)
	clientIP := "192.168.1.1"

	done := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		go func() {
			rl.allow(clientIP)
			done <- true
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}

	rl.mutex.RLock()
	count := rl.requests[clientIP].count
	rl.mutex.RUnlock()

	assert.Equal(t, 50, count)
}

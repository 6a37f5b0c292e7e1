package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/config"
	"github.com/fonsecaaso/linkpulse/go-server/internal/allocator"
	"github.com/fonsecaaso/linkpulse/go-server/internal/cache"
	db "github.com/fonsecaaso/linkpulse/go-server/internal/database"
	"github.com/fonsecaaso/linkpulse/go-server/internal/events"
	"github.com/fonsecaaso/linkpulse/go-server/internal/handler"
	"github.com/fonsecaaso/linkpulse/go-server/internal/metrics"
	"github.com/fonsecaaso/linkpulse/go-server/internal/middleware"
	"github.com/fonsecaaso/linkpulse/go-server/internal/observability"
	"github.com/fonsecaaso/linkpulse/go-server/internal/repository"
	"github.com/fonsecaaso/linkpulse/go-server/internal/resolver"
	route "github.com/fonsecaaso/linkpulse/go-server/internal/routes"
	"github.com/fonsecaaso/linkpulse/go-server/internal/service"
	"github.com/fonsecaaso/linkpulse/go-server/internal/token"
	"github.com/fonsecaaso/linkpulse/go-server/internal/urlgate"
)

type stores struct {
	links repository.LinkRepository
	users repository.UserRepository
	close func()
}

func main() {
	secrets, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.Setup(ctx, observability.Options{
		ServiceName:  secrets.ServiceName,
		Environment:  secrets.Env,
		OTLPEndpoint: secrets.OTLPEndpoint,
		LokiURL:      secrets.LokiURL,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "observability failed to initialize: %v\n", err)
		os.Exit(1)
	}
	logger := obs.Logger

	if !secrets.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	background := make(chan struct{})
	metrics.StartSystemMetricsCollection(15*time.Second, background)

	st, err := openStores(ctx, secrets, background)
	if err != nil {
		logger.Fatal("store failed to initialize", zap.String("driver", secrets.StoreDriver), zap.Error(err))
	}
	logger.Info("store connection established", zap.String("driver", secrets.StoreDriver))

	var redisClient *redis.Client
	if secrets.NeedsRedis() {
		redisClient, err = db.NewRedisClient(ctx, secrets)
		if err != nil {
			logger.Fatal("redis failed to initialize", zap.Error(err))
		}
		logger.Info("redis connection established")
	}

	var cacheStore cache.Store
	if secrets.CacheDriver == config.CacheRedis {
		cacheStore = cache.NewRedisStore(redisClient)
	} else {
		cacheStore = cache.NewMemoryStore(time.Minute)
	}
	redirectCache := cache.NewRedirectCache(cacheStore, secrets.CacheTTL)

	var sink events.Sink
	if secrets.EventsDriver == config.EventsRedis {
		sink = events.NewRedisStreamSink(redisClient, secrets.EventStream, 0)
	} else {
		sink = events.NewLogSink()
	}
	dispatcherCfg := events.DefaultDispatcherConfig()
	dispatcherCfg.QueueSize = secrets.EventQueueSize
	dispatcherCfg.Workers = secrets.EventWorkers
	dispatcherCfg.MaxRetries = secrets.EventMaxRetries
	dispatcherCfg.RetryBackoff = secrets.EventRetryBackoff
	dispatcher := events.NewDispatcher(sink, dispatcherCfg)
	dispatcher.Start()

	tokens := token.NewManager(secrets.JWTSecret, secrets.JWTTTL)
	gate := urlgate.New(urlgate.WithDNSTimeout(secrets.DNSTimeout))
	codes := allocator.New(st.links, repository.ErrConflict, allocator.WithMaxAttempts(secrets.CodeAllocationTries))

	links := service.NewLinkService(gate, codes, st.links, redirectCache, dispatcher)
	auth := service.NewAuthService(st.users, tokens, dispatcher)
	res := resolver.New(st.links, redirectCache, dispatcher, resolver.WithClickTimeout(secrets.ClickRecordTimeout))

	var memLimiters []*middleware.RateLimiter
	newLimiter := func(requests int) middleware.Limiter {
		if redisClient != nil {
			return middleware.NewRedisLimiter(redisClient, requests, secrets.RateLimitWindow)
		}
		rl := middleware.NewRateLimiter(requests, secrets.RateLimitWindow)
		memLimiters = append(memLimiters, rl)
		return rl
	}
	apiLimiter := newLimiter(secrets.RateLimitRequests)
	redirectLimiter := newLimiter(secrets.RedirectRateLimitRequests)

	r := route.SetupRouter(route.Dependencies{
		Links: handler.NewLinkHandler(links, res, secrets.BaseURL),
		Auth:  handler.NewAuthHandler(auth),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"store": st.links,
			"cache": redirectCache,
		}),
		Tokens:          tokens,
		APILimiter:      apiLimiter,
		RedirectLimiter: redirectLimiter,
		AllowOrigins:    secrets.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + secrets.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("base_url", secrets.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", zap.Duration("timeout", secrets.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), secrets.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("event dispatcher did not drain", zap.Error(err))
	}
	for _, rl := range memLimiters {
		rl.Stop()
	}
	close(background)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	st.close()

	if err := obs.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "observability shutdown: %v\n", err)
	}
}

func openStores(ctx context.Context, secrets *config.Config, stop <-chan struct{}) (*stores, error) {
	switch secrets.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPostgresClient(ctx, secrets)
		if err != nil {
			return nil, err
		}
		if secrets.MigrateOnStart {
			if err := repository.MigratePostgres(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		go db.ReportPoolStats(pool, 15*time.Second, stop)
		return &stores{
			links: repository.NewPostgresLinkRepository(pool),
			users: repository.NewUserRepository(pool),
			close: pool.Close,
		}, nil

	case config.StoreSQLite:
		conn, err := db.NewSQLClient(ctx, secrets.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		if secrets.MigrateOnStart {
			if err := repository.MigrateSQL(ctx, conn); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		return &stores{
			links: repository.NewSQLLinkRepository(conn),
			users: repository.NewSQLUserRepository(conn),
			close: func() { _ = conn.Close() },
		}, nil

	default:
		return &stores{
			links: repository.NewMemoryLinkRepository(),
			users: repository.NewMemoryUserRepository(),
			close: func() {},
		}, nil
	}
}

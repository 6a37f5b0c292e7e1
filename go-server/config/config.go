package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"

	CacheRedis  = "redis"
	CacheMemory = "memory"

	EventsRedis = "redis"
	EventsLog   = "log"
)

// Config holds everything main needs to wire the service.
type Config struct {
	Env         string
	ServiceName string
	Port        string
	BaseURL     string

	StoreDriver      string
	PostgresURL      string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
	SQLiteDSN        string
	MigrateOnStart   bool

	CacheDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	DNSTimeout time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	RateLimitRequests         int
	RedirectRateLimitRequests int
	RateLimitWindow           time.Duration

	EventsDriver        string
	EventStream         string
	EventQueueSize      int
	EventWorkers        int
	EventMaxRetries     int
	EventRetryBackoff   time.Duration
	ClickRecordTimeout  time.Duration
	ShutdownTimeout     time.Duration
	CORSAllowedOrigins  []string
	OTLPEndpoint        string
	LokiURL             string
	CodeAllocationTries int
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment alone.
func FromEnv() (*Config, error) {
	var p parser

	cfg := &Config{
		Env:         getEnvWithDefault("ENV", "production"),
		ServiceName: getEnvWithDefault("SERVICE_NAME", "linkpulse"),
		Port:        getEnvWithDefault("PORT", "8080"),
		BaseURL:     strings.TrimRight(getEnvWithDefault("BASE_URL", "http://localhost:8080"), "/"),

		StoreDriver:      strings.ToLower(getEnvWithDefault("STORE_DRIVER", StorePostgres)),
		PostgresURL:      os.Getenv("POSTGRES_URL"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresSSLMode:  getEnvWithDefault("POSTGRES_SSLMODE", "prefer"),
		PostgresPort:     p.intVar("POSTGRES_PORT", 5432),
		SQLiteDSN:        getEnvWithDefault("SQLITE_DSN", "file:linkpulse.db"),
		MigrateOnStart:   p.boolVar("MIGRATE_ON_START", true),

		CacheDriver:   strings.ToLower(getEnvWithDefault("CACHE_DRIVER", CacheRedis)),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.intVar("REDIS_DB", 0),
		CacheTTL:      p.durationVar("CACHE_TTL", time.Hour),

		DNSTimeout: p.durationVar("DNS_TIMEOUT", 2*time.Second),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    p.durationVar("JWT_TTL", 24*time.Hour),

		RateLimitRequests:         p.intVar("RATE_LIMIT_REQUESTS", 100),
		RedirectRateLimitRequests: p.intVar("REDIRECT_RATE_LIMIT_REQUESTS", 300),
		RateLimitWindow:           p.durationVar("RATE_LIMIT_WINDOW", time.Minute),

		EventsDriver:        strings.ToLower(getEnvWithDefault("EVENTS_DRIVER", EventsLog)),
		EventStream:         getEnvWithDefault("EVENT_STREAM", "linkpulse:events"),
		EventQueueSize:      p.intVar("EVENT_QUEUE_SIZE", 1024),
		EventWorkers:        p.intVar("EVENT_WORKERS", 2),
		EventMaxRetries:     p.intVar("EVENT_MAX_RETRIES", 3),
		EventRetryBackoff:   p.durationVar("EVENT_RETRY_BACKOFF", 100*time.Millisecond),
		ClickRecordTimeout:  p.durationVar("CLICK_RECORD_TIMEOUT", 2*time.Second),
		ShutdownTimeout:     p.durationVar("SHUTDOWN_TIMEOUT", 10*time.Second),
		CORSAllowedOrigins:  splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LokiURL:             os.Getenv("LOKI_URL"),
		CodeAllocationTries: p.intVar("CODE_ALLOCATION_ATTEMPTS", 10),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.PostgresURL == "" {
			if c.PostgresHost == "" || c.PostgresUser == "" || c.PostgresDB == "" {
				return fmt.Errorf("either POSTGRES_URL or POSTGRES_HOST, POSTGRES_USER, and POSTGRES_DB must be set")
			}
			c.PostgresURL = buildPostgresURL(c)
		}
	case StoreSQLite:
		if c.SQLiteDSN == "" {
			return fmt.Errorf("SQLITE_DSN not set")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.CacheDriver {
	case CacheRedis:
	case CacheMemory:
	default:
		return fmt.Errorf("unknown CACHE_DRIVER %q", c.CacheDriver)
	}

	switch c.EventsDriver {
	case EventsRedis, EventsLog:
	default:
		return fmt.Errorf("unknown EVENTS_DRIVER %q", c.EventsDriver)
	}

	if c.NeedsRedis() && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR not set")
	}
	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("JWT_SECRET not set")
		}
		c.JWTSecret = "development-only-secret"
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.RedirectRateLimitRequests <= 0 {
		return fmt.Errorf("REDIRECT_RATE_LIMIT_REQUESTS must be positive")
	}
	return nil
}

// NeedsRedis reports whether any selected driver talks to redis.
func (c *Config) NeedsRedis() bool {
	return c.CacheDriver == CacheRedis || c.EventsDriver == EventsRedis
}

type parser struct {
	err error
}

func (p *parser) intVar(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return n
}

func (p *parser) boolVar(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return b
}

func (p *parser) durationVar(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return d
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// buildPostgresURL constructs PostgreSQL connection URL from individual parameters
func buildPostgresURL(config *Config) string {
	password := ""
	if config.PostgresPassword != "" {
		password = ":" + config.PostgresPassword
	}

	return fmt.Sprintf("postgres://%s%s@%s:%d/%s?sslmode=%s",
		config.PostgresUser,
		password,
		config.PostgresHost,
		config.PostgresPort,
		config.PostgresDB,
		config.PostgresSSLMode,
	)
}

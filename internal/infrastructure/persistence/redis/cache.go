// Package redis keeps hot tutoring state in Redis: session snapshots, the
// per-student turn slot, control-cohort chat history and event fan-out.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheConnection wraps a failed initial ping.
var ErrCacheConnection = errors.New("cache: connection failed")

// ErrCacheSerialization wraps a snapshot or message that would not encode
// or decode.
var ErrCacheSerialization = errors.New("cache: serialization failed")

// Config holds Redis connection configuration. URL, when set, wins over
// the address fields; PoolSize applies either way.
type Config struct {
	URL string

	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// KeyPrefix namespaces every key, so tests and deployments can share
	// one server.
	KeyPrefix string
}

// DefaultConfig targets a local server with the "tutor:" namespace.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "tutor:",
	}
}

func (c Config) options() (*redis.Options, error) {
	if c.URL == "" {
		return &redis.Options{
			Addr:         net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Password:     c.Password,
			DB:           c.DB,
			PoolSize:     c.PoolSize,
			MinIdleConns: c.MinIdleConns,
			MaxRetries:   c.MaxRetries,
			DialTimeout:  c.DialTimeout,
			ReadTimeout:  c.ReadTimeout,
			WriteTimeout: c.WriteTimeout,
		}, nil
	}

	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	return opts, nil
}

// Key layout under the prefix.
const (
	prefixSession       = "session:"
	prefixActiveSession = "session:active:"
	prefixStudentIndex  = "session:by-student:"
	prefixSlot          = "slot:"
	prefixChat          = "chat:"
)

const (
	// TTLSession keeps abandoned snapshots around long enough to resume.
	TTLSession = 7 * 24 * time.Hour

	// TTLSlot bounds a stuck turn lock.
	TTLSlot = 45 * time.Second

	// TTLChat expires idle control-cohort conversations.
	TTLChat = 30 * 24 * time.Hour
)

// Cache is the shared connection behind the session store, slot locker,
// chat history and pub/sub adapter.
type Cache struct {
	client redis.UniversalClient
	prefix string
}

// NewCache connects and pings within DialTimeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().DialTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return &Cache{client: client, prefix: cfg.KeyPrefix}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping is the readiness check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) key(parts ...string) string {
	return c.prefix + strings.Join(parts, "")
}

// Delete removes keys; missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Package ratelimit counts attempts per key in fixed windows.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/healwise/apiserver/config"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "healwise:ratelimit:"

// Limiter reports whether another attempt for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Open returns a Redis limiter when cfg.RedisURL is set, an in-memory one
// otherwise, and nil when limiting is disabled.
func Open(cfg config.RateLimitConfig) (Limiter, func() error, error) {
	if cfg.Attempts <= 0 {
		return nil, func() error { return nil }, nil
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	if cfg.RedisURL == "" {
		return NewMemory(cfg.Attempts, window), func() error { return nil }, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	return NewRedis(client, cfg.Attempts, window), client.Close, nil
}

// Redis shares counters across server replicas.
type Redis struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: int64(limit), window: window}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	bucket := keyPrefix + key + ":" + strconv.FormatInt(time.Now().UnixNano()/int64(r.window), 10)
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= r.limit, nil
}

// Memory keeps counters in process.
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]bucket
}

type bucket struct {
	start time.Time
	count int
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]bucket),
	}
}

func (m *Memory) Allow(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok || now.Sub(b.start) >= m.window {
		b = bucket{start: now}
	}
	b.count++
	m.buckets[key] = b

	// Drop stale buckets so the map does not grow with every client seen.
	if len(m.buckets) > 10_000 {
		for k, v := range m.buckets {
			if now.Sub(v.start) >= m.window {
				delete(m.buckets, k)
			}
		}
	}
	return b.count <= m.limit, nil
}

// KeyFunc derives the client part of a rate limit key from a request.
type KeyFunc func(r *http.Request) string

type peerKey struct{}

// CapturePeer records the socket address of the connection. It must run
// before any middleware that rewrites RemoteAddr from forwarding headers,
// such as chi's RealIP.
func CapturePeer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SocketIP keys on the address recorded by CapturePeer, falling back to
// RemoteAddr. Forwarding headers are ignored, so clients cannot pick their
// own bucket.
func SocketIP(r *http.Request) string {
	if addr, ok := r.Context().Value(peerKey{}).(string); ok && addr != "" {
		return hostOf(addr)
	}
	return hostOf(r.RemoteAddr)
}

// ForwardedIP keys on RemoteAddr as rewritten by RealIP. Use it only when
// every request arrives through a proxy that sets X-Forwarded-For or
// X-Real-IP itself.
func ForwardedIP(r *http.Request) string {
	return hostOf(r.RemoteAddr)
}

// Middleware rejects requests over the limit with 429. Requests are keyed
// by scope and key(r); a nil key means SocketIP. Limiter errors let the
// request through.
func Middleware(limiter Limiter, scope string, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = SocketIP
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), scope+":"+key(r))
			if err != nil {
				slog.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
			}
			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/healwise/apiserver/config"
)

func TestMemoryWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(2, time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		got, _ := m.Allow(ctx, "ip")
		if got != want {
			t.Fatalf("attempt %d: Allow() = %v, want %v", i+1, got, want)
		}
	}
	if ok, _ := m.Allow(ctx, "other"); !ok {
		t.Fatal("keys must be counted separately")
	}

	now = now.Add(time.Minute)
	if ok, _ := m.Allow(ctx, "ip"); !ok {
		t.Fatal("expected a fresh window")
	}
}

func TestOpen(t *testing.T) {
	l, closeFn, err := Open(config.RateLimitConfig{Attempts: 0})
	if err != nil || l != nil {
		t.Fatalf("Open(disabled) = %v, %v", l, err)
	}
	_ = closeFn()

	l, _, err = Open(config.RateLimitConfig{Attempts: 3})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok := l.(*Memory); !ok {
		t.Fatalf("Open() = %T, want *Memory", l)
	}

	l, closeFn, err = Open(config.RateLimitConfig{Attempts: 3, RedisURL: "redis://localhost:6379/0"})
	if err != nil {
		t.Fatalf("Open(redis) error = %v", err)
	}
	if _, ok := l.(*Redis); !ok {
		t.Fatalf("Open(redis) = %T, want *Redis", l)
	}
	_ = closeFn()

	if _, _, err := Open(config.RateLimitConfig{Attempts: 3, RedisURL: "://bad"}); err == nil {
		t.Fatal("expected error for bad redis url")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return true, errors.New("redis down")
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(NewMemory(1, time.Minute), "login", nil)(ok)

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send("10.0.0.1:1234"); code != http.StatusNoContent {
		t.Fatalf("first status = %d", code)
	}
	if code := send("10.0.0.1:5555"); code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", code)
	}
	if code := send("10.0.0.2:1234"); code != http.StatusNoContent {
		t.Fatalf("other client status = %d", code)
	}

	open := Middleware(failingLimiter{}, "login", nil)(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("limiter error should fail open, got %d", rec.Code)
	}

	if Middleware(nil, "x", nil)(ok) == nil {
		t.Fatal("nil limiter must pass through")
	}
}

func TestMiddlewareIgnoresForwardingHeaders(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	chain := func(key KeyFunc) http.Handler {
		limited := Middleware(NewMemory(2, time.Minute), "login", key)(ok)
		return CapturePeer(middleware.RealIP(limited))
	}
	send := func(h http.Handler, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	h := chain(SocketIP)
	var codes []int
	for i := 0; i < 5; i++ {
		codes = append(codes, send(h, fmt.Sprintf("10.0.0.%d", i)))
	}
	if codes[2] != http.StatusTooManyRequests || codes[4] != http.StatusTooManyRequests {
		t.Fatalf("rotating X-Forwarded-For: codes = %v, want 429 from the third request", codes)
	}

	trusted := chain(ForwardedIP)
	for i := 0; i < 5; i++ {
		if code := send(trusted, fmt.Sprintf("10.0.0.%d", i)); code != http.StatusNoContent {
			t.Fatalf("trusted proxy request %d status = %d, want 204", i, code)
		}
	}
}

func TestSocketIPWithoutCapture(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5000"
	if got := SocketIP(req); got != "198.51.100.4" {
		t.Fatalf("SocketIP() = %q, want 198.51.100.4", got)
	}
}

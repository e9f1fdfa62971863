package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if key := KeyByClientIP()(c); key != "ip:203.0.113.9" {
		t.Fatalf("unexpected key %q", key)
	}
}

func TestNewRateLimiter_Defaults_AndReuse(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, nil)
	if rl.burst != 1 || rl.keyFn == nil {
		t.Fatalf("defaults not applied: burst=%d", rl.burst)
	}
	lim := rl.getVisitor("k1")
	if got := rl.getVisitor("k1"); got != lim {
		t.Fatalf("expected same limiter instance to be reused")
	}
	if rl.Len() != 1 {
		t.Fatalf("Len = %d", rl.Len())
	}
}

func TestRateLimiter_getVisitor_GC(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1.0, 1, KeyByClientIP())
	rl.now = func() time.Time { return now }

	rl.mu.Lock()
	rl.visitors["old"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: now.Add(-rl.ttl)}
	rl.visitors["fresh"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: now.Add(-time.Minute)}
	rl.cleanupN = 4999
	rl.mu.Unlock()

	_ = rl.getVisitor("new")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["old"]; ok {
		t.Fatalf("expected 'old' visitor to be evicted")
	}
	if _, ok := rl.visitors["fresh"]; !ok {
		t.Fatalf("'fresh' visitor must survive")
	}
	if _, ok := rl.visitors["new"]; !ok {
		t.Fatalf("expected 'new' visitor to be created")
	}
}

func TestRateLimiter_Handler_AllowThenDeny(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1.0, 1, KeyByClientIP())

	r := gin.New()
	r.Use(RequestID(), rl.Handler())
	r.POST("/api/proof-request", func(c *gin.Context) { c.String(http.StatusCreated, "ok") })

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodPost, "/api/proof-request", nil))
	if w1.Code != http.StatusCreated {
		t.Fatalf("first request should be allowed, got %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/proof-request", nil)
	req.Header.Set(RequestIDHeader, "rid-429")
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests || w2.Header().Get("Retry-After") != "1" {
		t.Fatalf("second request should be limited, got %d", w2.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "too_many_requests" || body["status"] != "error" || body["request_id"] != "rid-429" {
		t.Fatalf("unexpected JSON body: %v", body)
	}
}

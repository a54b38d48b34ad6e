package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func limitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hit(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = ip + ":1234"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_PerIP(t *testing.T) {
	r := limitedRouter(NewRateLimiter(0.001, 2))

	for i := 0; i < 2; i++ {
		if w := hit(r, "203.0.113.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, w.Code)
		}
	}
	w := hit(r, "203.0.113.1")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 429 with Retry-After, got %d", w.Code)
	}
	if w := hit(r, "203.0.113.2"); w.Code != http.StatusOK {
		t.Fatalf("other client limited: %d", w.Code)
	}
}

func TestRateLimiter_DisabledAndBurstCoercion(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.burst != 1 {
		t.Fatalf("burst = %d", rl.burst)
	}
	r := limitedRouter(rl)
	for i := 0; i < 20; i++ {
		if w := hit(r, "198.51.100.7"); w.Code != http.StatusOK {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.limiterFor("old")

	now = now.Add(visitorTTL + time.Second)
	for i := 0; i < sweepEvery; i++ {
		rl.limiterFor("fresh")
	}
	rl.mu.Lock()
	_, ok := rl.visitors["old"]
	rl.mu.Unlock()
	if ok {
		t.Fatal("idle visitor not evicted")
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Corphon/ScriptMaster/internal/di"
	"github.com/gin-gonic/gin"
)

func TestRateLimiterAllow(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if allowed, _ := rl.Allow("k", 2, time.Minute); !allowed {
			t.Fatalf("request %d denied", i+1)
		}
	}
	allowed, visitor := rl.Allow("k", 2, time.Minute)
	if allowed {
		t.Fatal("third request allowed")
	}
	if visitor.Remaining != 0 || visitor.Limit != 2 {
		t.Errorf("visitor = %+v", visitor)
	}

	if allowed, _ := rl.Allow("other", 2, time.Minute); !allowed {
		t.Error("separate key shares quota")
	}

	now = now.Add(time.Minute + time.Second)
	if allowed, _ := rl.Allow("k", 2, time.Minute); !allowed {
		t.Error("quota not reset after window")
	}

	now = now.Add(2 * time.Minute)
	rl.Cleanup()
	if len(rl.visitors) != 0 {
		t.Errorf("Cleanup left %d visitors", len(rl.visitors))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter()

	r := gin.New()
	r.Use(requestIDMiddleware())
	r.GET("/limited", rl.RateLimitByIP("test", 1, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/limited", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request: status %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "1" || w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("headers = %v", w.Header())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/limited", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d", w.Code)
	}
	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != ErrorRateLimited || resp.RequestID == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(corsMiddleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/x", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin header")
	}
}

func TestRateLimiterStartEvictsExpiredVisitors(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return start }
	for i := 0; i < 500; i++ {
		rl.Allow(fmt.Sprintf("default:10.0.%d.%d", i/256, i%256), 100, time.Minute)
	}
	if rl.Len() != 500 {
		t.Fatalf("Len = %d, want 500", rl.Len())
	}

	rl.now = func() time.Time { return start.Add(24 * time.Hour) }
	rl.Start(time.Millisecond)
	defer rl.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for rl.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("visitors retained after window expiry: %d", rl.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}

	rl.Stop()
}

func TestRouterStopsRateLimiterOnShutdown(t *testing.T) {
	s := newTestServer(t)

	limiter, err := di.Resolve[*RateLimiter](s.container, di.ServiceRateLimiter)
	if err != nil {
		t.Fatalf("Resolve rate limiter: %v", err)
	}
	s.do(t, http.MethodGet, "/api/health", nil)
	if limiter.Len() != 1 {
		t.Errorf("Len = %d, want 1", limiter.Len())
	}

	Shutdown(s.container)
	select {
	case <-limiter.stopCh:
	default:
		t.Error("rate limiter not stopped")
	}
}

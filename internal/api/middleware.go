// internal/api/middleware.go
package api

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/ScriptMaster/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// RateLimiter 固定窗口限流器
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Visitor 客户端在当前窗口内的配额
type Visitor struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*Visitor),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start 定期清理过期的访问记录，直到 Stop
func (rl *RateLimiter) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-rl.stopCh:
				return
			}
		}
	}()
}

// Stop 停止定期清理，可重复调用
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

// Len 当前记录的访问者数量
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// Cleanup removes visitors whose window has expired
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, visitor := range rl.visitors {
		if now.After(visitor.Reset) {
			delete(rl.visitors, key)
		}
	}
}

// Allow checks if a visitor is allowed to make a request and returns the remaining quota
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) (bool, *Visitor) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	visitor, exists := rl.visitors[key]

	if !exists || now.After(visitor.Reset) {
		visitor = &Visitor{
			Limit:     limit,
			Remaining: limit - 1,
			Reset:     now.Add(window),
		}
		rl.visitors[key] = visitor
		snapshot := *visitor
		return true, &snapshot
	}

	if visitor.Remaining <= 0 {
		snapshot := *visitor
		return false, &snapshot
	}

	visitor.Remaining--
	snapshot := *visitor
	return true, &snapshot
}

// RateLimitMiddleware 按 keyFunc 分组限流；不同路由组使用不同的 scope 互不影响
func (rl *RateLimiter) RateLimitMiddleware(scope string, limit int, window time.Duration, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, visitor := rl.Allow(scope+":"+keyFunc(c), limit, window)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", visitor.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", max(visitor.Remaining, 0)))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", visitor.Reset.Unix()))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, &APIResponse{
				Success:   false,
				Error:     &APIError{Code: ErrorRateLimited, Message: "Rate limit exceeded"},
				Timestamp: time.Now(),
				RequestID: c.GetString(requestIDKey),
			})
			return
		}
		c.Next()
	}
}

// RateLimitByIP applies rate limiting based on client IP address
func (rl *RateLimiter) RateLimitByIP(scope string, limit int, window time.Duration) gin.HandlerFunc {
	return rl.RateLimitMiddleware(scope, limit, window, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// GenerationRateLimit 生成类接口的限流（调用模型，成本较高）
func (rl *RateLimiter) GenerationRateLimit() gin.HandlerFunc {
	return rl.RateLimitByIP("generation", 20, time.Minute)
}

// DefaultRateLimit applies general rate limiting for most API endpoints
func (rl *RateLimiter) DefaultRateLimit() gin.HandlerFunc {
	return rl.RateLimitByIP("default", 100, time.Minute)
}

// requestIDMiddleware 为每个请求分配ID，沿用客户端传入的 X-Request-ID
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// metricsMiddleware 记录请求计数和耗时
func metricsMiddleware(metrics *utils.ScriptMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

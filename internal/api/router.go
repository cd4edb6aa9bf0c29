// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/Corphon/ScriptMaster/internal/config"
	"github.com/Corphon/ScriptMaster/internal/di"
	"github.com/Corphon/ScriptMaster/internal/llm"
	"github.com/Corphon/ScriptMaster/internal/services"
	"github.com/Corphon/ScriptMaster/internal/utils"
	"github.com/gin-gonic/gin"
)

// 限流记录清理间隔
const rateLimitCleanupInterval = 10 * time.Minute

// SetupRouter 使用全局容器配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	return NewRouter(di.GetContainer())
}

// NewRouter 从容器获取服务并注册路由；WebSocket 管理器注册回容器以便关闭
func NewRouter(container *di.Container) (*gin.Engine, error) {
	cfg, err := di.Resolve[*config.Config](container, di.ServiceConfig)
	if err != nil {
		return nil, fmt.Errorf("配置未正确初始化: %w", err)
	}
	script, err := di.Resolve[*services.ScriptService](container, di.ServiceScript)
	if err != nil {
		return nil, fmt.Errorf("向导服务未正确初始化: %w", err)
	}
	provider, err := di.Resolve[llm.Provider](container, di.ServiceProvider)
	if err != nil {
		return nil, fmt.Errorf("模型提供者未正确初始化: %w", err)
	}
	metrics, err := di.Resolve[*utils.ScriptMetrics](container, di.ServiceMetrics)
	if err != nil {
		metrics = utils.NewScriptMetrics(nil, nil)
	}

	wsManager := NewWebSocketManager()
	wsManager.Start(30 * time.Second)
	script.SetNotifier(wsManager)
	container.Register(di.ServiceWebSocket, wsManager)

	handler := NewHandler(script, cfg, provider, metrics, wsManager)
	limiter := NewRateLimiter()
	limiter.Start(rateLimitCleanupInterval)
	container.Register(di.ServiceRateLimiter, limiter)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(corsMiddleware())
	r.Use(metricsMiddleware(metrics))

	// ===============================
	// 页面路由
	// ===============================
	r.GET("/", handler.IndexPage)

	// WebSocket 支持
	r.GET("/ws/sessions/:id", handler.SessionWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(limiter.DefaultRateLimit())
	{
		api.GET("/health", handler.HealthCheck)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/config", handler.GetConfig)

		// ===============================
		// 会话相关路由
		// ===============================
		sessions := api.Group("/sessions")
		{
			sessions.POST("", handler.CreateSession)
			sessions.GET("/:id", handler.GetSession)
			sessions.DELETE("/:id", handler.DeleteSession)
			sessions.PUT("/:id/params", handler.UpdateParams)
			sessions.POST("/:id/outline/confirm", handler.ConfirmOutline)
			sessions.POST("/:id/section/next", handler.NextSection)
			sessions.POST("/:id/complete", handler.CompleteScript)
			sessions.GET("/:id/document", handler.GetDocument)
			sessions.GET("/:id/export", handler.ExportScript)
			sessions.GET("/:id/exports", handler.ListExports)
			sessions.GET("/:id/exports/:file", handler.DownloadExport)
			sessions.POST("/:id/reset", handler.ResetSession)

			// 调用模型的接口单独限流
			generation := sessions.Group("/:id", limiter.GenerationRateLimit())
			{
				generation.POST("/topic", handler.SubmitTopic)
				generation.POST("/outline/regenerate", handler.RegenerateOutline)
				generation.POST("/section", handler.ViewSection)
				generation.POST("/section/regenerate", handler.RegenerateSection)
			}
		}
	}

	return r, nil
}

// Shutdown 关闭 WebSocket 连接并停止限流清理
func Shutdown(container *di.Container) {
	if ws, err := di.Resolve[*WebSocketManager](container, di.ServiceWebSocket); err == nil {
		ws.Shutdown()
	}
	if limiter, err := di.Resolve[*RateLimiter](container, di.ServiceRateLimiter); err == nil {
		limiter.Stop()
	}
}

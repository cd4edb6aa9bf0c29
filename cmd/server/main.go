// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Corphon/ScriptMaster/internal/api"
	"github.com/Corphon/ScriptMaster/internal/app"
	"github.com/Corphon/ScriptMaster/internal/config"
	"github.com/Corphon/ScriptMaster/internal/di"
	apperrors "github.com/Corphon/ScriptMaster/internal/errors"
	"github.com/Corphon/ScriptMaster/internal/utils"
	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("🚀 启动 ScriptMaster 服务器...")

	// 1. 加载配置；缺少密钥时直接退出
	cfg, err := config.InitConfig()
	if err != nil {
		if apperrors.IsConfigurationError(err) {
			log.Fatalf("❌ 配置无效，请检查环境变量、.env 或 SCRIPT_PROFILE: %v", err)
		}
		log.Fatalf("❌ 加载配置失败: %v", err)
	}
	log.Printf("✅ 配置加载完成，提供者: %s，模型: %s", cfg.LLMProvider, cfg.Generation.Defaults.Model)

	// 2. 创建必要的目录
	createDirectories(cfg)
	log.Println("✅ 目录结构创建完成")

	// 3. 初始化日志
	if err := utils.InitLogger(cfg.LogDir, cfg.LogLevel, cfg.DebugMode); err != nil {
		log.Printf("⚠️ 初始化日志失败，使用标准输出: %v", err)
	}
	defer utils.GetLogger().Close()

	// 4. 初始化所有服务（按依赖顺序）
	if err := app.InitServices(); err != nil {
		log.Fatalf("❌ 初始化服务失败: %v", err)
	}
	log.Println("✅ 所有服务初始化完成")

	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	// 5. 设置路由（只获取服务，不创建）
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("❌ 设置路由失败: %v", err)
	}
	log.Println("✅ 路由设置完成")

	// 6. 启动服务器
	log.Printf("🌐 服务器启动在端口 %s", cfg.Port)
	log.Printf("🔗 访问地址: http://localhost:%s", cfg.Port)

	setupGracefulShutdown(router, cfg.Port)
}

// 健康检查函数
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{di.ServiceConfig, di.ServiceProvider, di.ServiceSessions, di.ServiceScript}
	for _, serviceName := range criticalServices {
		if !container.Has(serviceName) {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// 优雅关闭函数
func setupGracefulShutdown(router *gin.Engine, port string) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ 启动服务器失败: %v", err)
		}
	}()

	// 等待中断信号以进行优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 正在关闭服务器...")

	container := di.GetContainer()
	api.Shutdown(container)

	// 生成请求可能持续较久，给定超时时间
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("❌ 服务器强制关闭: %v", err)
	}
	app.Cleanup(container)

	log.Println("✅ 服务器优雅关闭完成")
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{cfg.LogDir}
	if cfg.ExportArchive {
		dirs = append(dirs, cfg.DataDir, filepath.Join(cfg.DataDir, "exports"))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}

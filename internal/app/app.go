// internal/app/app.go
package app

import (
	"fmt"
	"time"

	"github.com/Corphon/ScriptMaster/internal/config"
	"github.com/Corphon/ScriptMaster/internal/di"
	apperrors "github.com/Corphon/ScriptMaster/internal/errors"
	"github.com/Corphon/ScriptMaster/internal/llm"
	"github.com/Corphon/ScriptMaster/internal/services"
	"github.com/Corphon/ScriptMaster/internal/storage"
	"github.com/Corphon/ScriptMaster/internal/utils"

	// 注册模型提供者
	_ "github.com/Corphon/ScriptMaster/internal/llm/providers/openai"
)

// 会话清理间隔上限
const maxCleanupInterval = 5 * time.Minute

// InitServices 按依赖顺序创建所有服务并注册到全局容器
func InitServices() error {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return apperrors.NewConfigurationError("配置未初始化", nil)
	}
	return RegisterServices(di.GetContainer(), cfg)
}

// RegisterServices 在指定容器中注册服务
func RegisterServices(container *di.Container, cfg *config.Config) error {
	logger := utils.GetLogger()
	metrics := utils.NewScriptMetrics(utils.GetMetricsCollector(), logger)

	// 1. 模型提供者
	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("初始化模型提供者 %s 失败（可用: %v）", cfg.LLMProvider, llm.ListProviders()), err)
	}

	// 2. 导出归档存储
	var fs *storage.FileStorage
	if cfg.ExportArchive {
		fs, err = storage.NewFileStorage(cfg.DataDir)
		if err != nil {
			return apperrors.NewConfigurationError("初始化数据目录失败", err)
		}
	}

	// 3. 会话存储
	store := services.NewSessionStore(cfg.Generation.Defaults, cfg.SessionTTL, metrics)
	store.StartCleanup(cleanupInterval(cfg.SessionTTL))

	// 4. 生成、导出和向导服务
	generator, err := services.NewGeneratorService(provider, cfg.Generation, metrics)
	if err != nil {
		store.Stop()
		return err
	}
	exporter := services.NewExportService(fs)
	script := services.NewScriptService(store, generator, exporter, cfg.Generation)

	container.Register(di.ServiceConfig, cfg)
	container.Register(di.ServiceMetrics, metrics)
	container.Register(di.ServiceProvider, provider)
	if fs != nil {
		container.Register(di.ServiceStorage, fs)
	}
	container.Register(di.ServiceSessions, store)
	container.Register(di.ServiceGenerator, generator)
	container.Register(di.ServiceExport, exporter)
	container.Register(di.ServiceScript, script)

	logger.Info("服务初始化完成", map[string]interface{}{
		"provider": provider.GetName(),
		"model":    cfg.Generation.Defaults.Model,
		"archive":  fs != nil,
		"services": len(container.GetNames()),
	})
	return nil
}

// Cleanup 停止后台任务
func Cleanup(container *di.Container) {
	if store, err := di.Resolve[*services.SessionStore](container, di.ServiceSessions); err == nil {
		store.Stop()
	}
}

// cleanupInterval 取 ttl 的一半，不超过 maxCleanupInterval
func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if interval := ttl / 2; interval < maxCleanupInterval {
		return interval
	}
	return maxCleanupInterval
}

// internal/services/generator_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Corphon/ScriptMaster/internal/config"
	apperrors "github.com/Corphon/ScriptMaster/internal/errors"
	"github.com/Corphon/ScriptMaster/internal/llm"
	"github.com/Corphon/ScriptMaster/internal/models"
	"github.com/Corphon/ScriptMaster/internal/prompts"
	"github.com/Corphon/ScriptMaster/internal/utils"
)

// 生成目标
const (
	TargetOutline = "outline"
	TargetSection = "section"
)

// GeneratorService 根据主题、语气和目标调用模型生成 markdown 文本
type GeneratorService struct {
	provider llm.Provider
	builder  *prompts.Builder
	cfg      config.GenerationConfig
	metrics  *utils.ScriptMetrics
	logger   *utils.Logger

	notifierMu sync.RWMutex
	notifier   SessionNotifier

	// 可在测试中替换
	wait func(ctx context.Context, d time.Duration) error
}

// NewGeneratorService 创建生成服务
func NewGeneratorService(provider llm.Provider, cfg config.GenerationConfig, metrics *utils.ScriptMetrics) (*GeneratorService, error) {
	if provider == nil {
		return nil, apperrors.NewConfigurationError("未配置模型提供者", nil)
	}
	builder, err := prompts.NewBuilder(cfg.Templates)
	if err != nil {
		return nil, apperrors.NewConfigurationError("提示模板无效", err)
	}
	if cfg.RetryLimit < 1 {
		cfg.RetryLimit = 1
	}
	if metrics == nil {
		metrics = utils.NewScriptMetrics(nil, nil)
	}
	return &GeneratorService{
		provider: provider,
		builder:  builder,
		cfg:      cfg,
		metrics:  metrics,
		logger:   utils.GetLogger(),
		wait:     sleepContext,
	}, nil
}

// SetNotifier 设置事件接收者
func (g *GeneratorService) SetNotifier(n SessionNotifier) {
	g.notifierMu.Lock()
	defer g.notifierMu.Unlock()
	g.notifier = n
}

// ProviderName 当前提供者名称
func (g *GeneratorService) ProviderName() string {
	return g.provider.GetName()
}

// GenerateOutline 为会话的主题和语气生成大纲
func (g *GeneratorService) GenerateOutline(ctx context.Context, session *models.ScriptSession) (string, error) {
	prompt, err := g.builder.OutlinePrompt(session.Topic, session.Tone)
	if err != nil {
		return "", apperrors.NewProcessingError("构建大纲提示失败", err)
	}
	return g.generate(ctx, session, TargetOutline, prompt)
}

// GenerateSection 基于当前大纲生成指定章节
func (g *GeneratorService) GenerateSection(ctx context.Context, session *models.ScriptSession, section string) (string, error) {
	prompt, err := g.builder.SectionPrompt(session.Topic, session.Tone, section, session.Outline)
	if err != nil {
		return "", apperrors.NewProcessingError("构建章节提示失败", err)
	}
	return g.generate(ctx, session, TargetSection, prompt)
}

// generate 有界重试：瞬时错误最多尝试 RetryLimit 次，其他错误立即返回
func (g *GeneratorService) generate(ctx context.Context, session *models.ScriptSession, target string, prompt prompts.Prompt) (string, error) {
	req := llm.CompletionRequest{
		Prompt:       prompt.User,
		SystemPrompt: prompt.System,
		MaxTokens:    session.Params.MaxTokens,
		Temperature:  session.Params.Temperature,
		TopP:         session.Params.TopP,
		Model:        session.Params.Model,
	}

	for attempt := 1; ; attempt++ {
		start := time.Now()
		resp, err := g.provider.CompleteText(ctx, req)
		if err == nil {
			return g.accept(session, target, resp, time.Since(start))
		}

		// 请求上下文已过期时不再重试；HTTP 客户端自身超时仍按连接错误重试
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", g.fail(session, target, apperrors.NewTimeoutError("生成超时，请稍后重试", err))
		}

		kind := llm.KindOf(err)
		if !llm.IsTransient(err) {
			g.logger.Error("生成失败（不重试）", map[string]interface{}{
				"session_id": session.ID,
				"target":     target,
				"kind":       kind,
				"error":      err.Error(),
			})
			return "", g.fail(session, target, apperrors.NewProcessingError("生成内容时发生意外错误，请稍后重试", err))
		}

		session.RetryCount++
		g.metrics.RecordRetry(string(kind))
		g.logger.Warn("生成遇到瞬时错误", map[string]interface{}{
			"session_id":  session.ID,
			"target":      target,
			"attempt":     attempt,
			"retry_count": session.RetryCount,
			"kind":        kind,
			"error":       err.Error(),
		})

		if attempt >= g.cfg.RetryLimit {
			msg := fmt.Sprintf("模型服务暂时不可用（已尝试 %d 次），请稍后重试", attempt)
			return "", g.fail(session, target, apperrors.NewUnavailableError(msg, err))
		}

		g.notify(session.ID, EventGenerationRetry, map[string]interface{}{
			"target":      target,
			"attempt":     attempt,
			"kind":        kind,
			"retry_count": session.RetryCount,
		})

		if werr := g.wait(ctx, g.cfg.RetryDelay*time.Duration(attempt)); werr != nil {
			if errors.Is(werr, context.DeadlineExceeded) {
				return "", g.fail(session, target, apperrors.NewTimeoutError("生成超时，请稍后重试", werr))
			}
			return "", g.fail(session, target, apperrors.NewProcessingError("生成已取消", werr))
		}
	}
}

// accept 校验响应长度并记录指标
func (g *GeneratorService) accept(session *models.ScriptSession, target string, resp *llm.CompletionResponse, elapsed time.Duration) (string, error) {
	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Text)
	}
	if text == "" {
		return "", g.fail(session, target, apperrors.NewEmptyResponseError("模型返回了空内容", nil))
	}
	if n := utf8.RuneCountInString(text); n < g.cfg.MinResponseLength {
		msg := fmt.Sprintf("模型返回的内容过短（%d 字符，至少需要 %d）", n, g.cfg.MinResponseLength)
		return "", g.fail(session, target, apperrors.NewEmptyResponseError(msg, nil))
	}

	model := resp.ModelName
	if model == "" {
		model = session.Params.Model
	}
	g.metrics.RecordGeneration(target, g.provider.GetName(), model, resp.TokensUsed, elapsed)
	return text, nil
}

func (g *GeneratorService) fail(session *models.ScriptSession, target string, err *apperrors.AppError) error {
	g.metrics.RecordFailure(string(err.Type))
	g.notify(session.ID, EventGenerationFailed, map[string]interface{}{
		"target":      target,
		"error_type":  err.Type,
		"message":     err.Message,
		"retry_count": session.RetryCount,
	})
	return err
}

func (g *GeneratorService) notify(sessionID, eventType string, data interface{}) {
	g.notifierMu.RLock()
	n := g.notifier
	g.notifierMu.RUnlock()
	if n != nil {
		n.NotifySession(sessionID, newSessionEvent(eventType, sessionID, data))
	}
}

// sleepContext 等待 d，上下文取消时提前返回
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// internal/services/script_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Corphon/ScriptMaster/internal/config"
	apperrors "github.com/Corphon/ScriptMaster/internal/errors"
	"github.com/Corphon/ScriptMaster/internal/models"
	"github.com/Corphon/ScriptMaster/internal/utils"
)

// ScriptService 脚本向导的状态机：input -> outline_review -> section -> final
type ScriptService struct {
	store     *SessionStore
	generator *GeneratorService
	exporter  *ExportService
	cfg       config.GenerationConfig
	logger    *utils.Logger

	notifierMu sync.RWMutex
	notifier   SessionNotifier
}

// NewScriptService 创建向导服务
// 会话被删除或过期清理时同时删除其导出归档
func NewScriptService(store *SessionStore, generator *GeneratorService, exporter *ExportService, cfg config.GenerationConfig) *ScriptService {
	s := &ScriptService{
		store:     store,
		generator: generator,
		exporter:  exporter,
		cfg:       cfg,
		logger:    utils.GetLogger(),
	}
	store.SetOnRemove(s.pruneArchives)
	return s
}

func (s *ScriptService) pruneArchives(id string) {
	if err := s.exporter.RemoveArchived(id); err != nil {
		s.logger.Warn("删除导出归档失败", map[string]interface{}{
			"session_id": id,
			"error":      err.Error(),
		})
	}
}

// SetNotifier 设置事件接收者，同时传给生成服务
func (s *ScriptService) SetNotifier(n SessionNotifier) {
	s.notifierMu.Lock()
	s.notifier = n
	s.notifierMu.Unlock()
	s.generator.SetNotifier(n)
}

// CreateSession 新建会话
func (s *ScriptService) CreateSession() *models.SessionView {
	session := s.store.Create()
	s.logger.Info("创建会话", map[string]interface{}{"session_id": session.ID})
	return models.NewSessionView(session)
}

// GetSession 获取会话视图
func (s *ScriptService) GetSession(id string) (*models.SessionView, error) {
	session, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return models.NewSessionView(session), nil
}

// DeleteSession 删除会话
func (s *ScriptService) DeleteSession(id string) error {
	return s.store.Delete(id)
}

// SessionCount 当前会话数
func (s *ScriptService) SessionCount() int {
	return s.store.Count()
}

// SubmitTopic 提交主题和语气并生成大纲
func (s *ScriptService) SubmitTopic(ctx context.Context, id, topic, tone string) (*models.SessionView, error) {
	return s.mutate(id, func(session *models.ScriptSession) error {
		if err := requireStep(session, models.StepInput); err != nil {
			return err
		}

		topic = strings.TrimSpace(topic)
		if topic == "" {
			return apperrors.NewValidationError("请输入视频主题", nil)
		}
		if utf8.RuneCountInString(topic) < models.MinTopicLength {
			return apperrors.NewValidationError(
				fmt.Sprintf("主题至少需要 %d 个字符", models.MinTopicLength), nil)
		}
		tone = strings.TrimSpace(tone)
		if tone == "" {
			tone = models.DefaultTone
		}
		if !s.cfg.HasTone(tone) {
			return apperrors.NewValidationError(
				fmt.Sprintf("不支持的语气: %s，可选: %s", tone, strings.Join(s.cfg.Tones, ", ")), nil)
		}

		// 生成失败时保留主题和语气，停留在 input
		session.Topic = topic
		session.Tone = tone

		outline, err := s.generator.GenerateOutline(ctx, session)
		if err != nil {
			return err
		}
		session.Outline = outline
		session.Step = models.StepOutlineReview
		return nil
	})
}

// RegenerateOutline 重新生成大纲，失败时保留原大纲
func (s *ScriptService) RegenerateOutline(ctx context.Context, id string) (*models.SessionView, error) {
	return s.mutate(id, func(session *models.ScriptSession) error {
		if err := requireStep(session, models.StepOutlineReview); err != nil {
			return err
		}
		outline, err := s.generator.GenerateOutline(ctx, session)
		if err != nil {
			return err
		}
		session.Outline = outline
		return nil
	})
}

// ConfirmOutline 确认大纲，进入第一个章节
func (s *ScriptService) ConfirmOutline(id string) (*models.SessionView, error) {
	return s.mutate(id, func(session *models.ScriptSession) error {
		if err := requireStep(session, models.StepOutlineReview); err != nil {
			return err
		}
		session.Step = models.StepSection
		session.SectionIndex = 0
		return nil
	})
}

// ViewSection 返回当前章节内容，首次查看时生成并缓存
func (s *ScriptService) ViewSection(ctx context.Context, id string) (*models.SessionView, error) {
	return s.mutate(id, func(session *models.ScriptSession) error {
		if err := requireStep(session, models.StepSection); err != nil {
			return err
		}
		name := session.CurrentSection()
		if _, cached := session.SectionContent[name]; cached {
			return nil
		}
		content, err := s.generator.GenerateSection(ctx, session, name)
		if err != nil {
			return err
		}
		session.SectionContent[name] = content
		return nil
	})
}

// RegenerateSection 重新生成当前章节，仅成功时覆盖
func (s *ScriptService) RegenerateSection(ctx context.Context, id string) (*models.SessionView, error) {
	return s.mutate(id, func(session *models.ScriptSession) error {
		if err := requireStep(session, models.StepSection); err != nil {
			return err
		}
		name := session.CurrentSection()
		content, err := s.generator.GenerateSection(ctx, session, name)
		if err != nil {
			return err
		}
		session.SectionContent[name] = content
		return nil
	})
}

// NextSection 前进到下一个章节
func (s *ScriptService) NextSection(id string) (*models.SessionView, error) {
	return s.mutate(id, func(session *models.ScriptSession) error {
		if err := requireStep(session, models.StepSection); err != nil {
			return err
		}
		if session.IsLastSection() {
			return apperrors.NewConflictError("已经是最后一个章节，请完成脚本", nil)
		}
		session.SectionIndex++
		return nil
	})
}

// CompleteScript 在最后一个章节完成脚本
func (s *ScriptService) CompleteScript(id string) (*models.SessionView, error) {
	return s.mutate(id, func(session *models.ScriptSession) error {
		if err := requireStep(session, models.StepSection); err != nil {
			return err
		}
		if !session.IsLastSection() {
			return apperrors.NewConflictError(
				fmt.Sprintf("还未到最后一个章节（当前 %d/%d）", session.SectionIndex+1, len(session.Sections)), nil)
		}
		session.Step = models.StepFinal
		return nil
	})
}

// FinalDocument 返回最终 markdown 文档
func (s *ScriptService) FinalDocument(id string) (string, error) {
	var document string
	err := s.store.WithSession(id, func(session *models.ScriptSession) error {
		if err := requireStep(session, models.StepFinal); err != nil {
			return err
		}
		document = s.exporter.BuildDocument(session)
		return nil
	})
	return document, err
}

// Export 导出最终文档
func (s *ScriptService) Export(id, format string) (*models.ExportResult, error) {
	var snap *models.ScriptSession
	err := s.store.WithSession(id, func(session *models.ScriptSession) error {
		if err := requireStep(session, models.StepFinal); err != nil {
			return err
		}
		snap = session.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err := s.exporter.Export(snap, format)
	if err != nil {
		return nil, err
	}
	s.logger.Info("导出脚本", map[string]interface{}{
		"session_id": id,
		"format":     result.Format,
		"file":       result.FileName,
		"size":       result.FileSize,
	})
	return result, nil
}

// ListExports 列出会话的导出归档
func (s *ScriptService) ListExports(id string) ([]string, error) {
	if _, err := s.store.Get(id); err != nil {
		return nil, err
	}
	return s.exporter.ListArchived(id)
}

// ArchivedExport 读取会话的一个导出归档，返回内容和 MIME 类型
func (s *ScriptService) ArchivedExport(id, name string) ([]byte, string, error) {
	if _, err := s.store.Get(id); err != nil {
		return nil, "", err
	}
	return s.exporter.LoadArchived(id, name)
}

// FileName 下载文件名
func (s *ScriptService) FileName(topic string) string {
	return s.exporter.FileName(topic)
}

// RenderHTML 渲染 markdown 预览
func (s *ScriptService) RenderHTML(markdown string) (string, error) {
	return s.exporter.RenderHTML(markdown)
}

// Reset 清空所有状态，回到 input
func (s *ScriptService) Reset(id string) (*models.SessionView, error) {
	return s.mutate(id, func(session *models.ScriptSession) error {
		session.Reset()
		return nil
	})
}

// UpdateParams 调整温度和最大 token 数，任何步骤均可；nil 字段保留会话当前值
func (s *ScriptService) UpdateParams(id string, temperature *float32, maxTokens *int) (*models.SessionView, error) {
	return s.mutate(id, func(session *models.ScriptSession) error {
		params := session.Params
		if temperature != nil {
			params.Temperature = *temperature
		}
		if maxTokens != nil {
			params.MaxTokens = *maxTokens
		}
		if err := config.ValidateParams(params.Temperature, params.MaxTokens, s.cfg.MaxTokensLimit); err != nil {
			return err
		}
		session.Params = params
		return nil
	})
}

// mutate 在会话锁内执行 fn；生成失败时仍返回最新视图以便客户端展示重试次数
func (s *ScriptService) mutate(id string, fn func(*models.ScriptSession) error) (*models.SessionView, error) {
	var view *models.SessionView
	err := s.store.WithSession(id, func(session *models.ScriptSession) error {
		ferr := fn(session)
		// 校验和步骤冲突不修改状态
		if apperrors.IsValidationError(ferr) || apperrors.IsConflictError(ferr) {
			return ferr
		}
		session.Touch()
		view = models.NewSessionView(session)
		s.notify(session.ID, view)
		return ferr
	})
	return view, err
}

func (s *ScriptService) notify(sessionID string, view *models.SessionView) {
	s.notifierMu.RLock()
	n := s.notifier
	s.notifierMu.RUnlock()
	if n != nil {
		n.NotifySession(sessionID, newSessionEvent(EventSessionUpdated, sessionID, view))
	}
}

// requireStep 步骤不符时返回冲突错误
func requireStep(session *models.ScriptSession, step models.Step) error {
	if session.Step != step {
		return apperrors.NewConflictError(
			fmt.Sprintf("当前步骤为 %s，该操作需要在 %s 步骤执行", session.Step, step), nil)
	}
	return nil
}

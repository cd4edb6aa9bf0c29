// internal/models/script.go
package models

import (
	"time"
)

// Step 向导步骤
type Step string

const (
	StepInput         Step = "input"
	StepOutlineReview Step = "outline_review"
	StepSection       Step = "section"
	StepFinal         Step = "final"
)

// Valid 检查步骤是否为已知值
func (s Step) Valid() bool {
	switch s {
	case StepInput, StepOutlineReview, StepSection, StepFinal:
		return true
	}
	return false
}

// 默认语气
const DefaultTone = "Informative"

// MinTopicLength 主题最少字符数
const MinTopicLength = 10

// DefaultTones 可选语气列表
var DefaultTones = []string{"Informative", "Casual", "Humorous", "Motivational", "Storytelling"}

// DefaultSections 脚本的六个固定章节，顺序即最终文档顺序
var DefaultSections = []string{"Hook", "Introduction", "Main Content", "Engagement", "Conclusion", "CTA"}

// GenerationParams 单次生成使用的模型参数
type GenerationParams struct {
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float32 `json:"temperature" yaml:"temperature"`
	TopP        float32 `json:"top_p" yaml:"top_p"`
}

// ScriptSession 单个用户会话的向导状态
type ScriptSession struct {
	ID             string            `json:"id"`
	Step           Step              `json:"step"`
	Topic          string            `json:"topic"`
	Tone           string            `json:"tone"`
	Outline        string            `json:"outline"`
	SectionIndex   int               `json:"section_index"`
	Sections       []string          `json:"sections"`
	SectionContent map[string]string `json:"section_content"`
	RetryCount     int               `json:"retry_count"`
	Params         GenerationParams  `json:"params"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`

	defaults GenerationParams
}

// Progress 进度指示
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Retries int     `json:"retries"`
	Percent float64 `json:"percent"`
}

// NewScriptSession 创建带默认值的会话
func NewScriptSession(id string, defaults GenerationParams) *ScriptSession {
	now := time.Now()
	s := &ScriptSession{
		ID:        id,
		CreatedAt: now,
		defaults:  defaults,
	}
	s.Reset()
	s.UpdatedAt = now
	return s
}

// Reset 将所有字段恢复为默认值，ID 和创建时间保留
func (s *ScriptSession) Reset() {
	s.Step = StepInput
	s.Topic = ""
	s.Tone = DefaultTone
	s.Outline = ""
	s.SectionIndex = 0
	s.Sections = append([]string(nil), DefaultSections...)
	s.SectionContent = make(map[string]string)
	s.RetryCount = 0
	s.Params = s.defaults
	s.Touch()
}

// Touch 更新修改时间
func (s *ScriptSession) Touch() {
	s.UpdatedAt = time.Now()
}

// CurrentSection 当前章节名
func (s *ScriptSession) CurrentSection() string {
	if s.SectionIndex < 0 || s.SectionIndex >= len(s.Sections) {
		return ""
	}
	return s.Sections[s.SectionIndex]
}

// IsLastSection 是否位于最后一个章节
func (s *ScriptSession) IsLastSection() bool {
	return s.SectionIndex == len(s.Sections)-1
}

// Progress 返回 (index+1)/total 以及累计重试次数
func (s *ScriptSession) Progress() Progress {
	total := len(s.Sections)
	current := s.SectionIndex + 1
	percent := 0.0
	if total > 0 {
		percent = float64(current) / float64(total)
	}
	return Progress{
		Current: current,
		Total:   total,
		Retries: s.RetryCount,
		Percent: percent,
	}
}

// Snapshot 深拷贝会话，用于在锁外序列化
func (s *ScriptSession) Snapshot() *ScriptSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Sections = append([]string(nil), s.Sections...)
	cp.SectionContent = make(map[string]string, len(s.SectionContent))
	for k, v := range s.SectionContent {
		cp.SectionContent[k] = v
	}
	return &cp
}

// internal/models/export.go
package models

import (
	"time"
)

// 导出格式
const (
	ExportFormatMarkdown = "markdown"
	ExportFormatHTML     = "html"
)

// ExportResult 导出结果
type ExportResult struct {
	SessionID   string    `json:"session_id"`
	Title       string    `json:"title"`
	Format      string    `json:"format"`
	Content     string    `json:"content"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	GeneratedAt time.Time `json:"generated_at"`
	FilePath    string    `json:"file_path,omitempty"` // 归档文件路径，未归档时为空
	FileSize    int64     `json:"file_size"`
}

// SessionView 返回给客户端的会话视图
type SessionView struct {
	*ScriptSession
	CurrentSection string   `json:"current_section"`
	Progress       Progress `json:"progress"`
}

// NewSessionView 基于快照构建视图
func NewSessionView(s *ScriptSession) *SessionView {
	snap := s.Snapshot()
	return &SessionView{
		ScriptSession:  snap,
		CurrentSection: snap.CurrentSection(),
		Progress:       snap.Progress(),
	}
}

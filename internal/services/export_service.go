// internal/services/export_service.go
package services

import (
	"bytes"
	"fmt"
	"html"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/Corphon/ScriptMaster/internal/errors"
	"github.com/Corphon/ScriptMaster/internal/models"
	"github.com/Corphon/ScriptMaster/internal/storage"
	"github.com/Corphon/ScriptMaster/internal/utils"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// 导出 MIME 类型
const (
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeHTML     = "text/html; charset=utf-8"
)

// 归档目录（相对于 FileStorage.BaseDir）
const exportDir = "exports"

// ExportService 构建最终文档并导出
type ExportService struct {
	storage  *storage.FileStorage // 为 nil 时不归档
	markdown goldmark.Markdown
	logger   *utils.Logger
}

// NewExportService 创建导出服务
func NewExportService(fs *storage.FileStorage) *ExportService {
	return &ExportService{
		storage:  fs,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:   utils.GetLogger(),
	}
}

// BuildDocument 按固定章节顺序拼接 markdown 文档，缺失的章节内容为空
func (s *ExportService) BuildDocument(session *models.ScriptSession) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", session.Topic)
	fmt.Fprintf(&sb, "**Tone:** %s\n\n", session.Tone)
	for _, name := range session.Sections {
		fmt.Fprintf(&sb, "## %s\n%s\n\n", name, session.SectionContent[name])
	}
	return sb.String()
}

// FileName 由主题生成安全的下载文件名
func (s *ExportService) FileName(topic string) string {
	return sanitizeTopic(topic) + "_script.md"
}

// RenderHTML 将 markdown 渲染为 HTML 片段
func (s *ExportService) RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", apperrors.NewProcessingError("渲染 HTML 失败", err)
	}
	return buf.String(), nil
}

// Export 生成指定格式的导出结果，启用归档时同时写入 exports 目录
func (s *ExportService) Export(session *models.ScriptSession, format string) (*models.ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" || format == "md" {
		format = models.ExportFormatMarkdown
	}

	document := s.BuildDocument(session)
	result := &models.ExportResult{
		SessionID:   session.ID,
		Title:       session.Topic,
		Format:      format,
		GeneratedAt: time.Now(),
	}

	switch format {
	case models.ExportFormatMarkdown:
		result.Content = document
		result.FileName = s.FileName(session.Topic)
		result.ContentType = ContentTypeMarkdown
	case models.ExportFormatHTML:
		body, err := s.RenderHTML(document)
		if err != nil {
			return nil, err
		}
		result.Content = wrapHTML(session.Topic, body)
		result.FileName = strings.TrimSuffix(s.FileName(session.Topic), ".md") + ".html"
		result.ContentType = ContentTypeHTML
	default:
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("不支持的导出格式: %s，支持的格式: %s, %s", format, models.ExportFormatMarkdown, models.ExportFormatHTML), nil)
	}
	result.FileSize = int64(len(result.Content))

	if s.storage != nil {
		path, err := s.storage.SaveTextFile(filepath.Join(exportDir, session.ID), result.FileName, []byte(result.Content))
		if err != nil {
			// 归档失败不影响下载
			s.logger.Warn("导出归档失败", map[string]interface{}{
				"session_id": session.ID,
				"file":       result.FileName,
				"error":      err.Error(),
			})
		} else {
			result.FilePath = path
		}
	}

	return result, nil
}

// archiveDir 返回会话的归档目录，会话 ID 必须是单个路径段
func archiveDir(sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." || sessionID != filepath.Base(sessionID) {
		return "", apperrors.NewValidationError(fmt.Sprintf("无效的会话ID: %q", sessionID), nil)
	}
	return filepath.Join(exportDir, sessionID), nil
}

// ListArchived 列出会话的归档文件
func (s *ExportService) ListArchived(sessionID string) ([]string, error) {
	dir, err := archiveDir(sessionID)
	if err != nil {
		return nil, err
	}
	if s.storage == nil {
		return []string{}, nil
	}
	files, err := s.storage.ListFiles(dir)
	if err != nil {
		return nil, apperrors.NewProcessingError("读取归档列表失败", err)
	}
	return files, nil
}

// LoadArchived 读取一个归档文件，返回内容和 MIME 类型
func (s *ExportService) LoadArchived(sessionID, name string) ([]byte, string, error) {
	dir, err := archiveDir(sessionID)
	if err != nil {
		return nil, "", err
	}
	if s.storage == nil || !s.storage.FileExists(dir, name) {
		return nil, "", apperrors.NewNotFoundError(fmt.Sprintf("归档文件不存在: %s", name), nil)
	}
	content, err := s.storage.LoadTextFile(dir, name)
	if err != nil {
		return nil, "", apperrors.NewProcessingError("读取归档文件失败", err)
	}
	contentType := ContentTypeMarkdown
	if strings.EqualFold(filepath.Ext(name), ".html") {
		contentType = ContentTypeHTML
	}
	return content, contentType, nil
}

// RemoveArchived 删除会话的全部归档，未启用归档时什么也不做
func (s *ExportService) RemoveArchived(sessionID string) error {
	dir, err := archiveDir(sessionID)
	if err != nil {
		return err
	}
	if s.storage == nil {
		return nil
	}
	if err := s.storage.RemoveDir(dir); err != nil {
		return apperrors.NewProcessingError("删除归档失败", err)
	}
	return nil
}

// sanitizeTopic 空白替换为下划线，去掉路径分隔符等不安全字符
func sanitizeTopic(topic string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(topic) {
		switch {
		case unicode.IsSpace(r):
			sb.WriteRune('_')
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		}
	}
	name := strings.Trim(sb.String(), ".")
	if name == "" {
		return "script"
	}
	return name
}

func wrapHTML(title, body string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; line-height: 1.5; max-width: 48rem; margin: 2rem auto;">
%s
</body></html>
`, html.EscapeString(title), body)
}

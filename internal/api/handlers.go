// internal/api/handlers.go
package api

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/Corphon/ScriptMaster/internal/config"
	"github.com/Corphon/ScriptMaster/internal/llm"
	"github.com/Corphon/ScriptMaster/internal/models"
	"github.com/Corphon/ScriptMaster/internal/services"
	"github.com/Corphon/ScriptMaster/internal/utils"
	"github.com/gin-gonic/gin"
)

//go:embed web/index.html
var indexHTML []byte

// Handler 处理API请求
type Handler struct {
	Script    *services.ScriptService // 向导服务
	Config    *config.Config          // 当前配置
	Provider  llm.Provider            // 模型提供者（只读信息）
	Metrics   *utils.ScriptMetrics    // 指标
	WebSocket *WebSocketManager       // WebSocket 管理器
	Response  *ResponseHelper         // 响应助手

	startedAt time.Time
}

// NewHandler 创建处理器
func NewHandler(script *services.ScriptService, cfg *config.Config, provider llm.Provider, metrics *utils.ScriptMetrics, ws *WebSocketManager) *Handler {
	return &Handler{
		Script:    script,
		Config:    cfg,
		Provider:  provider,
		Metrics:   metrics,
		WebSocket: ws,
		Response:  NewResponseHelper(cfg.DebugMode),
		startedAt: time.Now(),
	}
}

// SubmitTopicRequest 提交主题请求
type SubmitTopicRequest struct {
	Topic string `json:"topic"`
	Tone  string `json:"tone"`
}

// UpdateParamsRequest 调整生成参数请求，缺省字段保持不变
type UpdateParamsRequest struct {
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

// ExportListResponse 会话的导出归档列表
type ExportListResponse struct {
	SessionID string   `json:"session_id"`
	Files     []string `json:"files"`
}

// DocumentResponse 最终文档
type DocumentResponse struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	FileName string `json:"file_name"`
}

// IndexPage 向导页面
func (h *Handler) IndexPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// GetConfig 返回向导需要的选项和限制
func (h *Handler) GetConfig(c *gin.Context) {
	g := h.Config.Generation
	h.Response.Success(c, gin.H{
		"tones":            g.Tones,
		"default_tone":     models.DefaultTone,
		"sections":         models.DefaultSections,
		"min_topic_length": models.MinTopicLength,
		"defaults":         g.Defaults,
		"limits": gin.H{
			"min_temperature": config.MinTemperature,
			"max_temperature": config.MaxTemperature,
			"min_max_tokens":  config.MinMaxTokens,
			"max_tokens":      g.MaxTokensLimit,
		},
		"retry_limit": g.RetryLimit,
		"provider":    h.Provider.GetName(),
		"models":      h.Provider.GetSupportedModels(),
	})
}

// CreateSession 新建会话
func (h *Handler) CreateSession(c *gin.Context) {
	h.Response.Created(c, h.Script.CreateSession(), "会话已创建")
}

// GetSession 获取会话
func (h *Handler) GetSession(c *gin.Context) {
	view, err := h.Script.GetSession(c.Param("id"))
	h.respond(c, view, err)
}

// DeleteSession 删除会话
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.Script.DeleteSession(c.Param("id")); err != nil {
		h.Response.AppError(c, err, nil)
		return
	}
	h.Response.Success(c, nil, "会话已删除")
}

// SubmitTopic 提交主题和语气，生成大纲
func (h *Handler) SubmitTopic(c *gin.Context) {
	var req SubmitTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式无效", err.Error())
		return
	}
	view, err := h.Script.SubmitTopic(c.Request.Context(), c.Param("id"), req.Topic, req.Tone)
	h.respond(c, view, err)
}

// RegenerateOutline 重新生成大纲
func (h *Handler) RegenerateOutline(c *gin.Context) {
	view, err := h.Script.RegenerateOutline(c.Request.Context(), c.Param("id"))
	h.respond(c, view, err)
}

// ConfirmOutline 确认大纲
func (h *Handler) ConfirmOutline(c *gin.Context) {
	view, err := h.Script.ConfirmOutline(c.Param("id"))
	h.respond(c, view, err)
}

// ViewSection 查看（首次生成）当前章节
func (h *Handler) ViewSection(c *gin.Context) {
	view, err := h.Script.ViewSection(c.Request.Context(), c.Param("id"))
	h.respond(c, view, err)
}

// RegenerateSection 重新生成当前章节
func (h *Handler) RegenerateSection(c *gin.Context) {
	view, err := h.Script.RegenerateSection(c.Request.Context(), c.Param("id"))
	h.respond(c, view, err)
}

// NextSection 下一章节
func (h *Handler) NextSection(c *gin.Context) {
	view, err := h.Script.NextSection(c.Param("id"))
	h.respond(c, view, err)
}

// CompleteScript 完成脚本
func (h *Handler) CompleteScript(c *gin.Context) {
	view, err := h.Script.CompleteScript(c.Param("id"))
	h.respond(c, view, err)
}

// GetDocument 返回最终 markdown 及 HTML 预览
func (h *Handler) GetDocument(c *gin.Context) {
	view, err := h.Script.GetSession(c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err, nil)
		return
	}
	markdown, err := h.Script.FinalDocument(view.ID)
	if err != nil {
		h.Response.AppError(c, err, nil)
		return
	}
	html, err := h.Script.RenderHTML(markdown)
	if err != nil {
		h.Response.AppError(c, err, nil)
		return
	}
	h.Response.Success(c, &DocumentResponse{
		Markdown: markdown,
		HTML:     html,
		FileName: h.Script.FileName(view.Topic),
	})
}

// ExportScript 下载最终文档
func (h *Handler) ExportScript(c *gin.Context) {
	result, err := h.Script.Export(c.Param("id"), c.DefaultQuery("format", models.ExportFormatMarkdown))
	if err != nil {
		h.Response.ExportError(c, err)
		return
	}
	h.Response.DownloadResponse(c, result.Content, result.FileName, result.ContentType)
}

// ListExports 列出会话已归档的导出文件
func (h *Handler) ListExports(c *gin.Context) {
	id := c.Param("id")
	files, err := h.Script.ListExports(id)
	if err != nil {
		h.Response.ExportError(c, err)
		return
	}
	h.Response.Success(c, &ExportListResponse{SessionID: id, Files: files})
}

// DownloadExport 下载一个已归档的导出文件
func (h *Handler) DownloadExport(c *gin.Context) {
	name := c.Param("file")
	content, contentType, err := h.Script.ArchivedExport(c.Param("id"), name)
	if err != nil {
		h.Response.ExportError(c, err)
		return
	}
	h.Response.DownloadResponse(c, string(content), name, contentType)
}

// ResetSession 新脚本：清空会话状态
func (h *Handler) ResetSession(c *gin.Context) {
	view, err := h.Script.Reset(c.Param("id"))
	h.respond(c, view, err)
}

// UpdateParams 调整温度和最大 token 数
func (h *Handler) UpdateParams(c *gin.Context) {
	var req UpdateParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式无效", err.Error())
		return
	}

	view, err := h.Script.UpdateParams(c.Param("id"), req.Temperature, req.MaxTokens)
	h.respond(c, view, err)
}

// GetMetrics 返回运行指标
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"metrics":   h.Metrics.Collector().GetMetrics(),
		"websocket": h.WebSocket.GetStatus(),
		"sessions":  h.Script.SessionCount(),
	})
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":         "ok",
		"provider":       h.Provider.GetName(),
		"model":          h.Config.Generation.Defaults.Model,
		"sessions":       h.Script.SessionCount(),
		"ws_connections": h.WebSocket.ConnectionCount(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// respond 成功时返回会话视图；失败时附带最新视图（若有）
func (h *Handler) respond(c *gin.Context, view *models.SessionView, err error) {
	if err != nil {
		var data interface{}
		if view != nil {
			data = view
		}
		h.Response.AppError(c, err, data)
		return
	}
	h.Response.Success(c, view)
}

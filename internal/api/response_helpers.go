// internal/api/response_helpers.go
package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/ScriptMaster/internal/errors"
	"github.com/gin-gonic/gin"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct {
	// 调试模式下在 details 中返回底层错误
	debug bool
}

// NewResponseHelper 创建响应助手
func NewResponseHelper(debug bool) *ResponseHelper {
	return &ResponseHelper{debug: debug}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusOK, data, message...)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	if len(message) == 0 {
		message = []string{"资源创建成功"}
	}
	rh.write(c, http.StatusCreated, data, message...)
}

func (rh *ResponseHelper) write(c *gin.Context, status int, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(status, response)
}

// sensitivePatterns 出现在消息中时整条替换
var sensitivePatterns = []string{"api_key", "apikey", "authorization", "bearer", "secret", "password", "token="}

// sanitizeErrorMessage 去除可能泄露密钥的信息
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	rh.ErrorWithData(c, statusCode, errorCode, message, nil, details...)
}

// ErrorWithData 错误响应，同时返回数据（例如失败后的会话状态）
func (rh *ResponseHelper) ErrorWithData(c *gin.Context, statusCode int, errorCode, message string, data interface{}, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}
	if len(details) > 0 && details[0] != "" {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Data:      data,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// statusForError AppError 类型到 HTTP 状态码和错误代码的映射
func statusForError(err error) (int, string) {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorInvalidInput
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorSessionNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorWrongStep
	case apperrors.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable, ErrorLLMServiceUnavailable
	case apperrors.ErrorTypeEmptyResponse:
		return http.StatusBadGateway, ErrorEmptyResponse
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, ErrorGenerationTimeout
	case apperrors.ErrorTypeConfiguration:
		return http.StatusInternalServerError, ErrorLLMConfigInvalid
	default:
		return http.StatusInternalServerError, ErrorGenerationFailed
	}
}

// AppError 将服务层错误写为标准错误响应；data 可为 nil
func (rh *ResponseHelper) AppError(c *gin.Context, err error, data interface{}) {
	status, code := statusForError(err)

	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	details := ""
	if rh.debug && appErr != nil && appErr.Err != nil {
		details = appErr.Err.Error()
	}
	rh.ErrorWithData(c, status, code, message, data, details)
}

// ExportError 导出错误：格式不支持和渲染失败使用导出错误码，其余按 AppError 处理
func (rh *ResponseHelper) ExportError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		rh.AppError(c, err, nil)
		return
	}
	switch appErr.Type {
	case apperrors.ErrorTypeValidation:
		rh.Error(c, http.StatusBadRequest, ErrorExportFormatInvalid, appErr.Message)
	case apperrors.ErrorTypeError:
		details := ""
		if rh.debug && appErr.Err != nil {
			details = appErr.Err.Error()
		}
		rh.Error(c, http.StatusInternalServerError, ErrorExportFailed, appErr.Message, details)
	default:
		rh.AppError(c, err, nil)
	}
}

// DownloadResponse 下载响应（强制下载）
func (rh *ResponseHelper) DownloadResponse(c *gin.Context, content string, filename string, contentType string) {
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Header("Content-Length", fmt.Sprintf("%d", len(content)))
	c.Data(http.StatusOK, contentType, []byte(content))
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest  = "BAD_REQUEST"
	ErrorRateLimited = "RATE_LIMIT_EXCEEDED"

	// 会话与向导相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorInvalidInput    = "INVALID_INPUT"
	ErrorWrongStep       = "WRONG_STEP"

	// 生成服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorEmptyResponse         = "EMPTY_RESPONSE"
	ErrorGenerationFailed      = "GENERATION_FAILED"
	ErrorGenerationTimeout     = "GENERATION_TIMEOUT"

	// 导出相关错误
	ErrorExportFailed        = "EXPORT_FAILED"
	ErrorExportFormatInvalid = "EXPORT_FORMAT_INVALID"
)

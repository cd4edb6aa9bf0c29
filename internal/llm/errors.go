// internal/llm/errors.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"unicode/utf8"
)

// ErrorKind 提供者失败分类
type ErrorKind string

const (
	KindRateLimit  ErrorKind = "rate_limit"
	KindConnection ErrorKind = "connection"
	KindAPI        ErrorKind = "api"
	KindUnexpected ErrorKind = "unexpected"
)

// Error 提供者返回的分类错误
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.StatusCode)
	}
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient 速率限制、连接失败和通用API错误可以重试
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindRateLimit, KindConnection, KindAPI:
		return true
	default:
		return false
	}
}

// IsTransient 判断错误链中是否包含可重试的提供者错误
func IsTransient(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Transient()
	}
	return false
}

// KindOf 返回错误分类，未分类的错误视为 unexpected
func KindOf(err error) ErrorKind {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	return KindUnexpected
}

// ClassifyStatus 将非2xx的HTTP状态码映射为分类错误
func ClassifyStatus(provider string, statusCode int, body string) *Error {
	kind := KindAPI
	if statusCode == http.StatusTooManyRequests {
		kind = KindRateLimit
	}
	return &Error{
		Kind:       kind,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    truncate(body, 512),
	}
}

// ClassifyTransport 将 http.Client.Do 返回的错误映射为分类错误
func ClassifyTransport(provider string, err error) *Error {
	kind := KindUnexpected
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		// 调用方主动取消，不重试
	case errors.As(err, &netErr):
		kind = KindConnection
	}
	return &Error{
		Kind:     kind,
		Provider: provider,
		Message:  "请求失败",
		Err:      err,
	}
}

// truncate 截断到至多 max 字节，不拆分多字节字符
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

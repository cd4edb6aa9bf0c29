// internal/services/events.go
package services

import "time"

// 会话事件类型
const (
	EventSessionUpdated   = "session_updated"
	EventGenerationRetry  = "generation_retry"
	EventGenerationFailed = "generation_failed"
)

// SessionEvent 推送给会话订阅者的事件
type SessionEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionNotifier 接收会话事件；实现必须是非阻塞的，调用方持有会话锁
type SessionNotifier interface {
	NotifySession(sessionID string, event SessionEvent)
}

func newSessionEvent(eventType, sessionID string, data interface{}) SessionEvent {
	return SessionEvent{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

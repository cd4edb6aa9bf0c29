// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/ScriptMaster/internal/services"
	"github.com/Corphon/ScriptMaster/internal/utils"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 64
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个订阅会话事件的连接
type WebSocketClient struct {
	conn      WebSocketConnection
	sessionID string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastPing  atomic.Int64 // unix nano
	createdAt time.Time
}

// NewWebSocketClient 创建客户端
func NewWebSocketClient(conn WebSocketConnection, sessionID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, wsSendBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 安全关闭客户端连接，可重复调用
func (client *WebSocketClient) Close() {
	client.closeOnce.Do(func() {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	})
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	select {
	case <-client.done:
		return true
	default:
		return false
	}
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// enqueue 非阻塞入队，队列满或已关闭时返回 false
func (client *WebSocketClient) enqueue(message []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// SendMessage 序列化并发送消息
func (client *WebSocketClient) SendMessage(message interface{}) error {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if !client.enqueue(msgBytes) {
		utils.GetLogger().Warn("WebSocket 消息被丢弃", map[string]interface{}{"session_id": client.sessionID})
	}
	return nil
}

// WebSocketManager 按会话管理 WebSocket 连接，实现 services.SessionNotifier
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{} // sessionID -> clients
	mutex       sync.RWMutex
	pingTimeout time.Duration

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewWebSocketManager 创建管理器
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		pingTimeout: 2 * wsPongWait,
		stopCh:      make(chan struct{}),
	}
}

// Start 启动定期清理
func (manager *WebSocketManager) Start(interval time.Duration) {
	manager.cleanupTicker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-manager.cleanupTicker.C:
				manager.CleanupExpired()
			case <-manager.stopCh:
				return
			}
		}
	}()
}

// Register 注册客户端
func (manager *WebSocketManager) Register(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.sessionID][client] = struct{}{}

	utils.GetLogger().Debug("WebSocket 客户端已连接", map[string]interface{}{"session_id": client.sessionID})
}

// Unregister 注销并关闭客户端
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	manager.removeLocked(client)
	manager.mutex.Unlock()

	client.Close()
}

func (manager *WebSocketManager) removeLocked(client *WebSocketClient) {
	if clients, exists := manager.connections[client.sessionID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(manager.connections, client.sessionID)
		}
	}
}

// NotifySession 向会话的所有连接推送事件；慢速客户端被断开
func (manager *WebSocketManager) NotifySession(sessionID string, event services.SessionEvent) {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		utils.GetLogger().Error("序列化会话事件失败", map[string]interface{}{
			"session_id": sessionID,
			"type":       event.Type,
			"error":      err.Error(),
		})
		return
	}
	manager.broadcast(sessionID, msgBytes)
}

func (manager *WebSocketManager) broadcast(sessionID string, message []byte) {
	manager.mutex.RLock()
	var failed []*WebSocketClient
	for client := range manager.connections[sessionID] {
		if !client.enqueue(message) {
			failed = append(failed, client)
		}
	}
	manager.mutex.RUnlock()

	for _, client := range failed {
		manager.Unregister(client)
	}
}

// CleanupExpired 清理过期和已关闭的连接
func (manager *WebSocketManager) CleanupExpired() int {
	manager.mutex.Lock()
	var expired []*WebSocketClient
	for _, clients := range manager.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				expired = append(expired, client)
			}
		}
	}
	for _, client := range expired {
		manager.removeLocked(client)
	}
	manager.mutex.Unlock()

	for _, client := range expired {
		client.Close()
	}
	return len(expired)
}

// ConnectionCount 当前连接数
func (manager *WebSocketManager) ConnectionCount() int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	total := 0
	for _, clients := range manager.connections {
		total += len(clients)
	}
	return total
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make(map[string]int, len(manager.connections))
	total := 0
	for sessionID, clients := range manager.connections {
		sessions[sessionID] = len(clients)
		total += len(clients)
	}
	return map[string]interface{}{
		"total_sessions":    len(manager.connections),
		"total_connections": total,
		"sessions":          sessions,
	}
}

// Shutdown 关闭所有连接并停止清理
func (manager *WebSocketManager) Shutdown() {
	manager.stopOnce.Do(func() {
		close(manager.stopCh)
		if manager.cleanupTicker != nil {
			manager.cleanupTicker.Stop()
		}

		manager.mutex.Lock()
		clients := make([]*WebSocketClient, 0)
		for _, set := range manager.connections {
			for client := range set {
				clients = append(clients, client)
			}
		}
		manager.connections = make(map[string]map[*WebSocketClient]struct{})
		manager.mutex.Unlock()

		for _, client := range clients {
			client.Close()
		}
	})
}

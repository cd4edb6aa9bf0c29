// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/Corphon/ScriptMaster/internal/services"
	"github.com/Corphon/ScriptMaster/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// wsInbound 客户端发来的消息
type wsInbound struct {
	Type string `json:"type"`
}

// SessionWebSocket 订阅会话事件：session_updated、generation_retry、generation_failed
func (h *Handler) SessionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	view, err := h.Script.GetSession(sessionID)
	if err != nil {
		h.Response.AppError(c, err, nil)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("WebSocket 升级失败", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return
	}

	client := NewWebSocketClient(conn, sessionID)
	h.WebSocket.Register(client)
	defer h.WebSocket.Unregister(client)

	go h.writePump(client)

	client.SendMessage(map[string]interface{}{
		"type":       "connected",
		"session_id": sessionID,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
	client.SendMessage(services.SessionEvent{
		Type:      services.EventSessionUpdated,
		SessionID: sessionID,
		Data:      view,
		Timestamp: time.Now(),
	})

	h.readPump(client)
}

// readPump 读取客户端消息直到连接关闭
func (h *Handler) readPump(client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.GetLogger().Debug("WebSocket 读取结束", map[string]interface{}{
					"session_id": client.sessionID,
					"error":      err.Error(),
				})
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			client.SendMessage(map[string]interface{}{"type": "error", "error": "invalid message"})
			continue
		}
		h.handleMessage(client, msg)
	}
}

// handleMessage 处理收到的 WebSocket 消息
func (h *Handler) handleMessage(client *WebSocketClient, msg wsInbound) {
	switch msg.Type {
	case "ping":
		client.SendMessage(map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().Unix(),
		})
	case "get_state":
		view, err := h.Script.GetSession(client.sessionID)
		if err != nil {
			client.SendMessage(map[string]interface{}{"type": "error", "error": err.Error()})
			return
		}
		client.SendMessage(services.SessionEvent{
			Type:      services.EventSessionUpdated,
			SessionID: client.sessionID,
			Data:      view,
			Timestamp: time.Now(),
		})
	default:
		client.SendMessage(map[string]interface{}{"type": "error", "error": "unknown message type: " + msg.Type})
	}
}

// writePump 将队列中的消息写入连接并定期发送 ping
func (h *Handler) writePump(client *WebSocketClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			return

		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

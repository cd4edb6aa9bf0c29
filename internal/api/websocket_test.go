package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Corphon/ScriptMaster/internal/services"
	"github.com/gorilla/websocket"
)

// fakeConn 记录写入的消息，读取时立即返回错误
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, websocket.ErrCloseSent
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error         { return nil }
func (c *fakeConn) SetPongHandler(func(appData string) error) {}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestNotifySessionRoutesBySession(t *testing.T) {
	manager := NewWebSocketManager()
	defer manager.Shutdown()

	a := NewWebSocketClient(&fakeConn{}, "session-a")
	b := NewWebSocketClient(&fakeConn{}, "session-b")
	manager.Register(a)
	manager.Register(b)

	manager.NotifySession("session-a", services.SessionEvent{
		Type:      services.EventGenerationRetry,
		SessionID: "session-a",
		Data:      map[string]interface{}{"attempt": 1},
		Timestamp: time.Now(),
	})

	select {
	case msg := <-a.send:
		var event services.SessionEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatal(err)
		}
		if event.Type != services.EventGenerationRetry {
			t.Errorf("type = %s", event.Type)
		}
	default:
		t.Fatal("session-a received nothing")
	}

	select {
	case <-b.send:
		t.Error("session-b received an event for session-a")
	default:
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	manager := NewWebSocketManager()
	defer manager.Shutdown()

	conn := &fakeConn{}
	client := NewWebSocketClient(conn, "s1")
	manager.Register(client)

	for i := 0; i < wsSendBuffer; i++ {
		manager.NotifySession("s1", services.SessionEvent{Type: services.EventGenerationRetry, SessionID: "s1"})
	}
	if manager.ConnectionCount() != 1 {
		t.Fatalf("client dropped before buffer was full")
	}

	manager.NotifySession("s1", services.SessionEvent{Type: services.EventGenerationFailed, SessionID: "s1"})
	if manager.ConnectionCount() != 0 {
		t.Error("slow client still registered")
	}
	if !client.IsClosed() || !conn.isClosed() {
		t.Error("slow client not closed")
	}
}

func TestCleanupExpired(t *testing.T) {
	manager := NewWebSocketManager()
	defer manager.Shutdown()

	fresh := NewWebSocketClient(&fakeConn{}, "s1")
	stale := NewWebSocketClient(&fakeConn{}, "s1")
	stale.lastPing.Store(time.Now().Add(-time.Hour).UnixNano())
	closed := NewWebSocketClient(&fakeConn{}, "s2")
	manager.Register(fresh)
	manager.Register(stale)
	manager.Register(closed)
	closed.Close()

	if n := manager.CleanupExpired(); n != 2 {
		t.Errorf("CleanupExpired = %d, want 2", n)
	}
	if manager.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount = %d, want 1", manager.ConnectionCount())
	}
	status := manager.GetStatus()
	if status["total_sessions"] != 1 {
		t.Errorf("status = %v", status)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	manager := NewWebSocketManager()
	manager.Start(time.Hour)

	client := NewWebSocketClient(&fakeConn{}, "s1")
	manager.Register(client)
	manager.Shutdown()
	manager.Shutdown()

	if !client.IsClosed() {
		t.Error("client not closed on shutdown")
	}
	if manager.ConnectionCount() != 0 {
		t.Error("connections not cleared")
	}
	if err := client.SendMessage(map[string]string{"type": "late"}); err != nil {
		t.Errorf("SendMessage after close: %v", err)
	}
}

func TestSessionWebSocket(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+id, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readType := func() string {
		t.Helper()
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		return msg.Type
	}

	if got := readType(); got != "connected" {
		t.Errorf("first message = %s, want connected", got)
	}
	if got := readType(); got != services.EventSessionUpdated {
		t.Errorf("second message = %s, want %s", got, services.EventSessionUpdated)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	if got := readType(); got != "pong" {
		t.Errorf("ping reply = %s, want pong", got)
	}

	if err := conn.WriteJSON(map[string]string{"type": "bogus"}); err != nil {
		t.Fatal(err)
	}
	if got := readType(); got != "error" {
		t.Errorf("unknown type reply = %s, want error", got)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"missing", nil)
	if err == nil {
		t.Fatal("dial to missing session succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session response = %v", resp)
	}
}

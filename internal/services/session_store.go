// internal/services/session_store.go
package services

import (
	"sync"
	"time"

	apperrors "github.com/Corphon/ScriptMaster/internal/errors"
	"github.com/Corphon/ScriptMaster/internal/models"
	"github.com/Corphon/ScriptMaster/internal/utils"
	"github.com/google/uuid"
)

// sessionEntry 会话及其独占锁
type sessionEntry struct {
	mu       sync.Mutex
	session  *models.ScriptSession
	lastUsed time.Time
	removed  bool
}

// SessionStore 内存会话存储，每个会话一把锁
type SessionStore struct {
	sessions map[string]*sessionEntry
	mu       sync.RWMutex
	defaults models.GenerationParams
	ttl      time.Duration
	metrics  *utils.ScriptMetrics
	onRemove func(id string)

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	stopOnce      sync.Once

	now func() time.Time
}

// NewSessionStore 创建会话存储；ttl <= 0 表示不过期
func NewSessionStore(defaults models.GenerationParams, ttl time.Duration, metrics *utils.ScriptMetrics) *SessionStore {
	if metrics == nil {
		metrics = utils.NewScriptMetrics(nil, nil)
	}
	return &SessionStore{
		sessions: make(map[string]*sessionEntry),
		defaults: defaults,
		ttl:      ttl,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Create 创建新会话并返回快照
func (st *SessionStore) Create() *models.ScriptSession {
	session := models.NewScriptSession(uuid.New().String(), st.defaults)
	entry := &sessionEntry{session: session, lastUsed: st.now()}

	st.mu.Lock()
	st.sessions[session.ID] = entry
	count := len(st.sessions)
	st.mu.Unlock()

	st.metrics.SetActiveSessions(count)
	return session.Snapshot()
}

// Get 返回会话快照
func (st *SessionStore) Get(id string) (*models.ScriptSession, error) {
	var snap *models.ScriptSession
	err := st.WithSession(id, func(s *models.ScriptSession) error {
		snap = s.Snapshot()
		return nil
	})
	return snap, err
}

// WithSession 在会话锁保护下执行 fn；同一会话的操作串行执行
func (st *SessionStore) WithSession(id string, fn func(*models.ScriptSession) error) error {
	st.mu.RLock()
	entry, exists := st.sessions[id]
	st.mu.RUnlock()
	if !exists {
		return apperrors.NewNotFoundError("会话不存在或已过期: "+id, nil)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// 等锁期间可能已被删除或清理
	if entry.removed {
		return apperrors.NewNotFoundError("会话不存在或已过期: "+id, nil)
	}
	entry.lastUsed = st.now()
	return fn(entry.session)
}

// SetOnRemove 设置会话被删除或清理后的回调，回调在锁外执行
func (st *SessionStore) SetOnRemove(fn func(id string)) {
	st.mu.Lock()
	st.onRemove = fn
	st.mu.Unlock()
}

// Delete 删除会话
func (st *SessionStore) Delete(id string) error {
	st.mu.Lock()
	entry, exists := st.sessions[id]
	if exists {
		delete(st.sessions, id)
	}
	count := len(st.sessions)
	onRemove := st.onRemove
	st.mu.Unlock()

	if !exists {
		return apperrors.NewNotFoundError("会话不存在或已过期: "+id, nil)
	}

	entry.mu.Lock()
	entry.removed = true
	entry.mu.Unlock()

	st.metrics.SetActiveSessions(count)
	if onRemove != nil {
		onRemove(id)
	}
	return nil
}

// Count 当前会话数
func (st *SessionStore) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Cleanup 移除空闲超过 ttl 的会话，正在使用的会话跳过，返回移除数量
func (st *SessionStore) Cleanup() int {
	if st.ttl <= 0 {
		return 0
	}

	st.mu.Lock()
	now := st.now()
	var removed []string
	for id, entry := range st.sessions {
		if !entry.mu.TryLock() {
			continue
		}
		if now.Sub(entry.lastUsed) > st.ttl {
			entry.removed = true
			delete(st.sessions, id)
			removed = append(removed, id)
		}
		entry.mu.Unlock()
	}
	count := len(st.sessions)
	onRemove := st.onRemove
	st.mu.Unlock()

	st.metrics.SetActiveSessions(count)
	if onRemove != nil {
		for _, id := range removed {
			onRemove(id)
		}
	}
	return len(removed)
}

// StartCleanup 启动定期清理
func (st *SessionStore) StartCleanup(interval time.Duration) {
	if interval <= 0 || st.ttl <= 0 {
		return
	}
	st.cleanupTicker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-st.cleanupTicker.C:
				if n := st.Cleanup(); n > 0 {
					utils.GetLogger().Info("清理过期会话", map[string]interface{}{"removed": n})
				}
			case <-st.stopCh:
				return
			}
		}
	}()
}

// Stop 停止清理器
func (st *SessionStore) Stop() {
	st.stopOnce.Do(func() {
		if st.cleanupTicker != nil {
			st.cleanupTicker.Stop()
		}
		close(st.stopCh)
	})
}

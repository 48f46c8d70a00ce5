package player

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionManager maintains the registry of all connected PlayerSessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[int64]*PlayerSession // accountID → session
	logger   *zap.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[int64]*PlayerSession),
		logger:   logger,
	}
}

// Register adds a session. If a previous session exists for the same
// account, it is closed first and returned (duplicate login / reconnect).
func (sm *SessionManager) Register(s *PlayerSession) *PlayerSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	old, ok := sm.sessions[s.AccountID]
	if ok && old != s {
		old.Close()
		sm.logger.Info("duplicate session displaced",
			zap.Int64("account_id", s.AccountID))
	} else {
		old = nil
	}
	sm.sessions[s.AccountID] = s
	sm.logger.Info("player session registered",
		zap.Int64("account_id", s.AccountID),
		zap.String("ip", s.IP))
	return old
}

// Unregister removes s. A session that has already been displaced by a
// newer login leaves the newer one in place.
func (sm *SessionManager) Unregister(s *PlayerSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cur, ok := sm.sessions[s.AccountID]; ok && cur == s {
		delete(sm.sessions, s.AccountID)
		sm.logger.Info("player session unregistered", zap.Int64("account_id", s.AccountID))
	}
}

// Get returns the session for an account, or nil if not found.
func (sm *SessionManager) Get(accountID int64) *PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[accountID]
}

// GetByName finds a session by account name (case-insensitive).
func (sm *SessionManager) GetByName(name string) *PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, s := range sm.sessions {
		if strings.EqualFold(s.Name(), name) {
			return s
		}
	}
	return nil
}

// IsOnline reports whether an account is currently connected.
func (sm *SessionManager) IsOnline(accountID int64) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.sessions[accountID]
	return ok
}

// Count returns the number of currently connected sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns a snapshot slice of all current sessions.
func (sm *SessionManager) All() []*PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*PlayerSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}

// BroadcastAll sends a raw pre-encoded packet to every connected session.
// Uses non-blocking send to prevent slow connections from blocking the broadcast.
func (sm *SessionManager) BroadcastAll(data []byte) {
	sm.mu.RLock()
	sessions := make([]*PlayerSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.RUnlock()

	for _, s := range sessions {
		select {
		case s.SendChan <- data:
		default:
			// Channel full, drop packet for this session.
			sm.logger.Warn("broadcast dropped packet for slow client",
				zap.Int64("account_id", s.AccountID))
		}
	}
}

// BroadcastToAll sends a packet to every connected session (typed version).
func (sm *SessionManager) BroadcastToAll(pkt *Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		sm.logger.Error("failed to marshal broadcast packet", zap.Error(err))
		return
	}
	sm.BroadcastAll(data)
}

// BroadcastSystemMessage sends a server notice to all online players.
func (sm *SessionManager) BroadcastSystemMessage(message string) {
	for _, s := range sm.All() {
		s.SendInfo(message)
	}
}

// CloseAllSessions gracefully closes all connected sessions.
func (sm *SessionManager) CloseAllSessions() {
	sm.mu.Lock()
	sessions := make([]*PlayerSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	sm.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	// Wait for all sessions to close (with timeout)
	maxWait := 10 * time.Second
	start := time.Now()
	for time.Since(start) < maxWait {
		sm.mu.RLock()
		count := len(sm.sessions)
		sm.mu.RUnlock()
		if count == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}

package player

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kasuganosora/realmcore/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadlineS = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the unified WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PlayerSession is one connected account. The account snapshot is the
// in-memory copy the session mutates and flushes; it is only reloaded
// explicitly.
type PlayerSession struct {
	AccountID int64
	IP        string
	TraceID   string
	LastSeq   uint64 // read pump only

	Conn     *websocket.Conn
	SendChan chan []byte
	Done     chan struct{}

	mu      sync.Mutex
	account *model.Account
	chr     *model.Character
	worldID int
	invite  int64 // guild the player was invited to
	chat    *rate.Limiter
	logger  *zap.Logger
}

// NewPlayerSession creates a session for acc. The write pump only starts
// when conn is non-nil; without one, packets stay in SendChan.
func NewPlayerSession(acc *model.Account, ip string, conn *websocket.Conn, logger *zap.Logger) *PlayerSession {
	s := &PlayerSession{
		AccountID: acc.ID,
		IP:        ip,
		Conn:      conn,
		SendChan:  make(chan []byte, sendChanBuf),
		Done:      make(chan struct{}),
		account:   acc,
		chat:      rate.NewLimiter(rate.Inf, 0),
		logger:    logger,
	}
	if conn != nil {
		go s.writePump()
	}
	return s
}

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic WebSocket pings to detect dead connections quickly.
func (s *PlayerSession) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data, ok := <-s.SendChan:
			if !ok {
				return
			}
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.Int64("account_id", s.AccountID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and sends it non-blocking. Drops if channel full or closed.
func (s *PlayerSession) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping packet",
				zap.Int64("account_id", s.AccountID),
				zap.String("type", pkt.Type))
		}
	}
}

// SendRaw sends raw bytes non-blocking. Drops if channel full or closed.
func (s *PlayerSession) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping raw packet",
				zap.Int64("account_id", s.AccountID))
		}
	}
}

// Close signals the writePump to shut down.
func (s *PlayerSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

// IsClosed returns true if the session has been closed.
func (s *PlayerSession) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// SetReadDeadline resets the WebSocket read deadline to 60 s from now.
func (s *PlayerSession) SetReadDeadline() {
	if s.Conn != nil {
		_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadlineS))
	}
}

// Account returns the session's account snapshot.
func (s *PlayerSession) Account() *model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// SetAccount replaces the snapshot, e.g. after a reload.
func (s *PlayerSession) SetAccount(acc *model.Account) {
	s.mu.Lock()
	s.account = acc
	s.mu.Unlock()
}

// Name is the account display name.
func (s *PlayerSession) Name() string {
	return s.Account().Name
}

// Character returns the character in play, nil before one is selected.
func (s *PlayerSession) Character() *model.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chr
}

// SetCharacter records the character in play and the world it is in.
func (s *PlayerSession) SetCharacter(chr *model.Character, worldID int) {
	s.mu.Lock()
	s.chr = chr
	s.worldID = worldID
	s.mu.Unlock()
}

// WorldID is the id of the world the character is in, 0 when none.
func (s *PlayerSession) WorldID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worldID
}

// SetGuildInvite records a pending guild invitation; 0 clears it.
func (s *PlayerSession) SetGuildInvite(guildID int64) {
	s.mu.Lock()
	s.invite = guildID
	s.mu.Unlock()
}

// GuildInvite returns the guild the player was last invited to.
func (s *PlayerSession) GuildInvite() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invite
}

// SetChatLimit installs the per-session chat rate limit.
func (s *PlayerSession) SetChatLimit(rps float64, burst int) {
	s.mu.Lock()
	s.chat = rate.NewLimiter(rate.Limit(rps), burst)
	s.mu.Unlock()
}

// AllowChat consumes one chat token.
func (s *PlayerSession) AllowChat() bool {
	s.mu.Lock()
	l := s.chat
	s.mu.Unlock()
	return l.Allow()
}

package ws

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/realmcore/config"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/trade"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/lease"
	mw "github.com/kasuganosora/realmcore/middleware"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/persist"
	"github.com/kasuganosora/realmcore/plugin/hook"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

// Deps are the services a connection is wired to.
type Deps struct {
	Store    *store.Store
	Leases   *lease.Manager
	Sessions *player.SessionManager
	Worlds   *world.Manager
	Trade    *trade.Service
	Hooks    *hook.HookCenter
	Router   *Router
	// Persist orders the final save after the character's queued saves.
	// Without it the final save is written directly.
	Persist *persist.Queue
}

// Handler is the Gin handler for GET /ws.
type Handler struct {
	deps     Deps
	sec      config.SecurityConfig
	game     config.GameConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader

	links sync.Map // account id -> *link
	saves sync.WaitGroup
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(deps Deps, sec config.SecurityConfig, game config.GameConfig, logger *zap.Logger) *Handler {
	h := &Handler{
		deps:   deps,
		sec:    sec,
		game:   game,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	if deps.Router != nil {
		deps.Router.On(PktUseVault, h.HandleUseVault)
		deps.Router.On(PktEscape, h.HandleEscape)
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>&char_id=<id>. The account lease is
// taken before the upgrade; a second connection for the same account is
// refused with 409.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	charID, err := strconv.ParseInt(c.Query("char_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid char_id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	acc, err := h.deps.Store.GetAccount(ctx, claims.AccountID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not found"})
		return
	}
	if acc.IsBanned(time.Now()) {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	}
	chr, err := h.loadCharacter(ctx, acc.ID, charID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}

	token, ok, err := h.deps.Leases.Acquire(ctx, acc.ID)
	if err != nil {
		h.logger.Error("lease acquire failed", zap.Int64("account_id", acc.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "account in use"})
		return
	}
	acc.LockToken = token

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		h.deps.Leases.ReleaseAsync(acc.ID, token)
		return
	}

	sess := player.NewPlayerSession(acc, c.ClientIP(), conn, h.logger)
	if h.game.ChatRPS > 0 {
		sess.SetChatLimit(h.game.ChatRPS, h.game.ChatBurst)
	}
	h.deps.Sessions.Register(sess)

	connCtx, stop := context.WithCancel(context.Background())
	defer stop()
	l := &link{p: h.spawn(connCtx, sess, chr)}
	h.links.Store(acc.ID, l)
	defer h.links.Delete(acc.ID)
	h.readPump(connCtx, l)
}

func (h *Handler) loadCharacter(ctx context.Context, accountID, charID int64) (*model.Character, error) {
	alive, err := h.deps.Store.IsAlive(ctx, accountID, charID)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, store.ErrCharacterNotFound
	}
	return h.deps.Store.GetCharacter(ctx, accountID, charID)
}

// spawn puts the session's character into the default world.
func (h *Handler) spawn(ctx context.Context, s *player.PlayerSession, chr *model.Character) *world.Player {
	w := h.deps.Worlds.GetOrCreate(world.NexusID, h.game.DefaultWorld)
	s.SetCharacter(chr, w.ID)
	e := w.NewPlayer(s, chr)
	id := w.EnterWorld(e)

	h.trigger(ctx, hook.OnPlayerLogin, s.Account())
	h.trigger(ctx, hook.OnWorldEnter, e.Player)
	s.SendCreateSuccess(id, chr.ID, w.Name)
	h.logger.Info("player connected",
		zap.Int64("account_id", s.AccountID),
		zap.Int64("char_id", chr.ID),
		zap.String("world", w.Name))
	return e.Player
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(ctx context.Context, l *link) {
	s := l.player().Session
	defer func() {
		h.handleDisconnect(ctx, l.player())
	}()

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("account_id", s.AccountID),
					zap.Error(err))
			}
			return
		}
		// Reset read deadline on any message (heartbeat or otherwise).
		s.SetReadDeadline()
		h.deps.Router.Dispatch(ctx, l.player(), raw)
	}
}

// handleDisconnect tears the player down: the trade is cancelled, the
// player leaves its world, the character is written under the lease behind
// any save still queued for it, and only then is the lease released.
func (h *Handler) handleDisconnect(ctx context.Context, p *world.Player) {
	s := p.Session
	s.Close()

	if h.deps.Trade != nil {
		h.deps.Trade.Disconnect(p)
	}
	h.leave(p)
	h.deps.Sessions.Unregister(s)
	h.trigger(ctx, hook.OnPlayerLogout, s.Account())
	h.logger.Info("player disconnected", zap.Int64("account_id", s.AccountID))

	acc := s.Account()
	chr := p.Character()
	h.saves.Add(1)
	go func() {
		defer h.saves.Done()
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("panic in disconnect save",
					zap.Int64("account_id", acc.ID),
					zap.Any("recover", r),
					zap.String("stack", string(debug.Stack())))
			}
		}()
		saveCtx, cancel := context.WithTimeout(context.Background(), finalSaveTimeout)
		defer cancel()
		chr.LastSeen = time.Now()
		if err := h.finalSave(saveCtx, acc, &chr); err != nil {
			lvl := zap.ErrorLevel
			if errors.Is(err, lease.ErrNotHeld) {
				lvl = zap.WarnLevel
			}
			h.logger.Log(lvl, "final character save failed",
				zap.Int64("account_id", acc.ID),
				zap.Int64("char_id", chr.ID),
				zap.Error(err))
		}
		h.deps.Leases.ReleaseAsync(acc.ID, acc.LockToken)
	}()
}

const finalSaveTimeout = 15 * time.Second

// finalSave writes chr on the character's persist key so it lands after
// every save queued before it.
func (h *Handler) finalSave(ctx context.Context, acc *model.Account, chr *model.Character) error {
	q := h.deps.Persist
	if q == nil {
		return h.deps.Store.SaveCharacter(ctx, acc, chr)
	}
	err := q.Enqueue(world.CharacterKey(acc.ID, chr.ID), func(ctx context.Context) error {
		err := h.deps.Store.SaveCharacter(ctx, acc, chr)
		if errors.Is(err, lease.ErrNotHeld) {
			return persist.Permanent(err)
		}
		return err
	}).Wait(ctx)
	if errors.Is(err, persist.ErrStopped) {
		// A stopped queue has finished everything it accepted.
		return h.deps.Store.SaveCharacter(ctx, acc, chr)
	}
	return err
}

// WaitSaves blocks until every disconnect save has finished and its lease
// was handed back, or ctx ends.
func (h *Handler) WaitSaves(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		h.saves.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (h *Handler) trigger(ctx context.Context, event string, data interface{}) {
	if h.deps.Hooks == nil {
		return
	}
	if _, err := h.deps.Hooks.Trigger(ctx, event, data); err != nil && !errors.Is(err, hook.ErrInterrupt) {
		h.logger.Warn("hook failed", zap.String("event", event), zap.Error(err))
	}
}

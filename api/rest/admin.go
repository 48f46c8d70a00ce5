package rest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/realmcore/game/chat"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/ledger"
	"github.com/kasuganosora/realmcore/scheduler"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by the AdminKey middleware.
type AdminHandler struct {
	store  *store.Store
	ledger *ledger.Ledger
	sm     *player.SessionManager
	wm     *world.Manager
	chat   *chat.Manager
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	st *store.Store,
	l *ledger.Ledger,
	sm *player.SessionManager,
	wm *world.Manager,
	cm *chat.Manager,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{store: st, ledger: l, sm: sm, wm: wm, chat: cm, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_players":  h.sm.Count(),
		"active_worlds":   h.wm.ActiveCount(),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// ListPlayers returns a snapshot of all online players.
// GET /api/admin/players
func (h *AdminHandler) ListPlayers(c *gin.Context) {
	sessions := h.sm.All()
	type playerInfo struct {
		AccountID int64  `json:"account_id"`
		Name      string `json:"name"`
		WorldID   int    `json:"world_id"`
		IP        string `json:"ip"`
	}
	result := make([]playerInfo, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, playerInfo{
			AccountID: s.AccountID,
			Name:      s.Name(),
			WorldID:   s.WorldID(),
			IP:        s.IP,
		})
	}
	c.JSON(http.StatusOK, gin.H{"players": result, "count": len(result)})
}

// KickPlayer forcibly disconnects a player by display name.
// POST /api/admin/kick/:name
func (h *AdminHandler) KickPlayer(c *gin.Context) {
	name := c.Param("name")
	s := h.sm.GetByName(name)
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	s.Close()
	h.logger.Info("admin kicked player", zap.Int64("account_id", s.AccountID), zap.String("name", name))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type banRequest struct {
	Ban    bool   `json:"ban"`
	Reason string `json:"reason"`
	Hours  int    `json:"hours"` // 0 is permanent
}

// BanAccount bans or unbans an account. A banned player is kicked.
// POST /api/admin/accounts/:id/ban
func (h *AdminHandler) BanAccount(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req banRequest
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	if !req.Ban {
		was, err := h.store.UnBan(ctx, accountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "was_banned": was})
		return
	}

	var lift int64
	if req.Hours > 0 {
		lift = time.Now().Add(time.Duration(req.Hours) * time.Hour).Unix()
	}
	err = h.store.Ban(ctx, accountID, req.Reason, lift)
	if errors.Is(err, store.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if s := h.sm.Get(accountID); s != nil {
		s.Close()
	}
	h.logger.Info("admin banned account", zap.Int64("account_id", accountID), zap.Int64("lift_time", lift))
	c.JSON(http.StatusOK, gin.H{"ok": true, "lift_time": lift})
}

type muteRequest struct {
	IP      string `json:"ip"      binding:"required,ip"`
	Minutes int    `json:"minutes"` // 0 mutes until unmuted
	Unmute  bool   `json:"unmute"`
}

// Mute silences or unsilences an ip address.
// POST /api/admin/mute
func (h *AdminHandler) Mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	var err error
	if req.Unmute {
		err = h.store.Unmute(ctx, req.IP)
	} else {
		err = h.store.Mute(ctx, req.IP, time.Duration(req.Minutes)*time.Minute)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type announceRequest struct {
	Text  string `json:"text"  binding:"required,max=200"`
	Local bool   `json:"local"`
}

// Announce broadcasts a notice to every connected server, or only to this
// one when local is set.
// POST /api/admin/announce
func (h *AdminHandler) Announce(c *gin.Context) {
	var req announceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.chat.Announce(c.Request.Context(), req.Text, req.Local)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ResetFame zeroes account and character fame and empties the legends.
// POST /api/admin/fame/reset
func (h *AdminHandler) ResetFame(c *gin.Context) {
	if err := h.ledger.ResetFame(c.Request.Context()); err != nil {
		h.logger.Error("fame reset failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Info("admin reset fame")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

var grantKinds = map[string]ledger.CurrencyKind{
	"gold":      ledger.Gold,
	"fame":      ledger.Fame,
	"guildFame": ledger.GuildFame,
}

type grantRequest struct {
	Kind   string `json:"kind"   binding:"required,oneof=gold fame guildFame"`
	Amount int64  `json:"amount" binding:"required"`
}

// Grant adds to (or takes from) one of an account's balances. The update is
// conditioned on the balance just read, so a concurrent change makes it fail
// with 409 rather than being overwritten.
// POST /api/admin/accounts/:id/grant
func (h *AdminHandler) Grant(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := grantKinds[req.Kind]

	ctx := c.Request.Context()
	acc, err := h.store.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	err = h.ledger.UpdateAccountCurrency(ctx, acc, req.Amount, kind)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient funds"})
		return
	case errors.Is(err, ledger.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "balance changed, try again"})
		return
	default:
		h.logger.Error("grant failed", zap.Int64("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.chat.Info(ctx, accountID, fmt.Sprintf("Your %s changed by %d.", kind, req.Amount))
	h.logger.Info("admin grant",
		zap.Int64("account_id", accountID), zap.String("kind", kind.String()), zap.Int64("amount", req.Amount))
	c.JSON(http.StatusOK, gin.H{
		"credits":    acc.Credits,
		"fame":       acc.Fame,
		"guild_fame": acc.GuildFame,
	})
}

type wipeRequest struct {
	Killer string `json:"killer" binding:"max=32"`
}

// WipeCharacters kills every living character of an offline account. The
// deaths count for fame and the legends like any other.
// POST /api/admin/accounts/:id/wipe
func (h *AdminHandler) WipeCharacters(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req wipeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Killer == "" {
		req.Killer = "admin"
	}

	ctx := c.Request.Context()
	acc, err := h.store.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	deaths, err := h.ledger.KillCharacters(ctx, acc, req.Killer)
	if errors.Is(err, lease.ErrLocked) {
		c.JSON(http.StatusConflict, gin.H{"error": "account is in use"})
		return
	}
	if err != nil {
		h.logger.Error("wipe failed", zap.Int64("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Info("admin wiped characters",
		zap.Int64("account_id", accountID), zap.Int("deaths", len(deaths)), zap.String("killer", req.Killer))
	c.JSON(http.StatusOK, gin.H{"deaths": len(deaths), "fame": acc.Fame})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

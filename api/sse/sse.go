// Package sse streams network-wide notices to web clients.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/realmcore/bus"
	"github.com/kasuganosora/realmcore/config"
	"github.com/kasuganosora/realmcore/game/chat"
	mw "github.com/kasuganosora/realmcore/middleware"
	"go.uber.org/zap"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data interface{}
}

// Handler handles the SSE endpoint.
type Handler struct {
	bus       bus.Bus
	accounts  mw.AccountLoader
	sec       config.SecurityConfig
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(b bus.Bus, accounts mw.AccountLoader, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{bus: b, accounts: accounts, sec: sec, keepalive: 30 * time.Second, logger: logger}
}

// ServeSSE handles GET /sse?token=<jwt>.
// It streams announcements and server join/leave notices.
func (h *Handler) ServeSSE(c *gin.Context) {
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
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	acc, err := h.accounts.GetAccount(ctx, claims.AccountID)
	cancel()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
		return
	}
	if acc.IsBanned(time.Now()) {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	}

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()
	events, err := h.subscribe(subCtx)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			data, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Name, data)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-subCtx.Done():
			return
		}
	}
}

// subscribe fans the chat and network channels into one event stream.
// Both subscriptions end with ctx.
func (h *Handler) subscribe(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, 16)
	push := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		default:
			h.logger.Debug("sse client slow, dropping event", zap.String("event", ev.Name))
		}
	}

	stopChat, err := bus.On(ctx, h.bus, bus.ChannelChat, h.logger, func(_ context.Context, msg *chat.Message) {
		if msg.Type == chat.TypeAnnounce {
			push(Event{Name: "announce", Data: gin.H{"text": msg.Text}})
		}
	})
	if err != nil {
		return nil, err
	}
	stopNet, err := bus.On(ctx, h.bus, bus.ChannelNetwork, h.logger, func(_ context.Context, msg *bus.NetworkMsg) {
		if msg.Info.Type == bus.ServerWorld {
			push(Event{Name: "network", Data: gin.H{"code": msg.Code, "server": msg.Info.Name}})
		}
	})
	if err != nil {
		stopChat()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		stopChat()
		stopNet()
	}()
	return out, nil
}

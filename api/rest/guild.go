package rest

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

// GuildHandler serves public guild information.
type GuildHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewGuildHandler creates a GuildHandler.
func NewGuildHandler(st *store.Store, logger *zap.Logger) *GuildHandler {
	return &GuildHandler{store: st, logger: logger}
}

// GuildMember is one roster row.
type GuildMember struct {
	AccountID int64  `json:"account_id"`
	Name      string `json:"name"`
	Rank      int    `json:"rank"`
}

// Detail handles GET /api/guilds/:name. The roster is ordered by rank, then
// name.
func (h *GuildHandler) Detail(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := h.store.ResolveGuildID(ctx, c.Param("name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	g, err := h.store.GetGuild(ctx, id)
	if errors.Is(err, store.ErrGuildNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "guild not found"})
		return
	}
	if err != nil {
		h.logger.Error("guild read failed", zap.Int64("guild_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	members := make([]GuildMember, 0, len(g.Members))
	for _, accID := range g.Members {
		acc, err := h.store.GetAccount(ctx, accID)
		if err != nil {
			continue
		}
		members = append(members, GuildMember{AccountID: acc.ID, Name: acc.Name, Rank: acc.GuildRank})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Rank != members[j].Rank {
			return members[i].Rank > members[j].Rank
		}
		return members[i].Name < members[j].Name
	})

	c.JSON(http.StatusOK, gin.H{
		"id":         g.ID,
		"name":       g.Name,
		"level":      g.Level,
		"fame":       g.Fame,
		"total_fame": g.TotalFame,
		"board":      g.Board,
		"members":    members,
	})
}

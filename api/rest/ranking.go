package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/realmcore/ledger"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

// RankingHandler serves the legends leaderboards.
type RankingHandler struct {
	board  *ledger.Board
	store  *store.Store
	logger *zap.Logger
}

// NewRankingHandler creates a RankingHandler.
func NewRankingHandler(board *ledger.Board, st *store.Store, logger *zap.Logger) *RankingHandler {
	return &RankingHandler{board: board, store: st, logger: logger}
}

// RankEntry is one row in the leaderboard.
type RankEntry struct {
	Rank      int    `json:"rank"`
	AccountID int64  `json:"account_id"`
	Name      string `json:"name"`
	CharID    int64  `json:"char_id"`
	Fame      int64  `json:"fame"`
}

// Legends returns the top dead characters of a span.
// GET /api/legends/:span?limit=20
func (h *RankingHandler) Legends(c *gin.Context) {
	span := c.Param("span")
	if _, ok := model.LegendSpans[span]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown span"})
		return
	}
	limit := 0
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}

	ctx := c.Request.Context()
	top, err := h.board.Top(ctx, span, limit)
	if err != nil {
		h.logger.Error("legends read failed", zap.String("span", span), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	names := make(map[int64]string)
	entries := make([]RankEntry, len(top))
	for i, e := range top {
		name, ok := names[e.AccountID]
		if !ok {
			name, _ = h.store.ResolveName(ctx, e.AccountID)
			names[e.AccountID] = name
		}
		entries[i] = RankEntry{
			Rank:      i + 1,
			AccountID: e.AccountID,
			Name:      name,
			CharID:    e.CharID,
			Fame:      e.Fame,
		}
	}
	c.JSON(http.StatusOK, gin.H{"span": span, "legends": entries})
}

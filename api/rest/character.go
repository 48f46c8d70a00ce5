package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/ledger"
	mw "github.com/kasuganosora/realmcore/middleware"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

// CharacterHandler handles character REST endpoints.
type CharacterHandler struct {
	store  *store.Store
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewCharacterHandler creates a new CharacterHandler.
func NewCharacterHandler(st *store.Store, l *ledger.Ledger, logger *zap.Logger) *CharacterHandler {
	return &CharacterHandler{store: st, ledger: l, logger: logger}
}

// CharacterView is the JSON form of a character.
type CharacterView struct {
	ID        int64     `json:"id"`
	Class     uint16    `json:"class"`
	ClassName string    `json:"class_name"`
	Skin      uint16    `json:"skin"`
	Level     int       `json:"level"`
	Exp       int64     `json:"exp"`
	Fame      int64     `json:"fame"`
	HP        int       `json:"hp"`
	MP        int       `json:"mp"`
	Items     []uint16  `json:"items"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *CharacterHandler) view(chr *model.Character) CharacterView {
	v := CharacterView{
		ID:        chr.ID,
		Class:     chr.ObjectType,
		Skin:      chr.Skin,
		Level:     chr.Level,
		Exp:       chr.Exp,
		Fame:      chr.Fame,
		HP:        chr.HP,
		MP:        chr.MP,
		Items:     chr.Items,
		CreatedAt: chr.CreateTime,
	}
	if cat := h.store.Catalog(); cat != nil {
		if cl, ok := cat.Classes[chr.ObjectType]; ok {
			v.ClassName = cl.Name
		}
	}
	return v
}

// account loads the caller's account, writing the error response itself.
func (h *CharacterHandler) account(c *gin.Context) (*model.Account, bool) {
	acc, err := h.store.GetAccount(c.Request.Context(), mw.GetAccountID(c))
	if errors.Is(err, store.ErrAccountNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}
	return acc, true
}

// List handles GET /api/characters.
func (h *CharacterHandler) List(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ids, err := h.store.AliveCharacters(ctx, acc.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	chars := make([]CharacterView, 0, len(ids))
	for _, id := range ids {
		chr, err := h.store.GetCharacter(ctx, acc.ID, id)
		if errors.Is(err, store.ErrCharacterNotFound) {
			continue
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		chars = append(chars, h.view(chr))
	}
	c.JSON(http.StatusOK, gin.H{
		"characters": chars,
		"max_slots":  acc.MaxCharSlot,
		"fame":       acc.Fame,
		"credits":    acc.Credits,
	})
}

type createCharacterRequest struct {
	ClassType uint16 `json:"class_type" binding:"required"`
	SkinType  uint16 `json:"skin_type"`
}

// Create handles POST /api/characters.
func (h *CharacterHandler) Create(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}
	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chr, err := h.ledger.CreateCharacter(c.Request.Context(), acc, req.ClassType, req.SkinType)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, h.view(chr))
	case errors.Is(err, ledger.ErrReachCharLimit):
		c.JSON(http.StatusBadRequest, gin.H{"error": "max characters reached"})
	case errors.Is(err, ledger.ErrUnknownClass), errors.Is(err, ledger.ErrClassLocked):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class_type"})
	case errors.Is(err, ledger.ErrSkinUnavailable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skin_type"})
	default:
		h.writeLeaseError(c, err, "create character")
	}
}

// Delete handles DELETE /api/characters/:id.
func (h *CharacterHandler) Delete(c *gin.Context) {
	charID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	acc, ok := h.account(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	alive, err := h.store.IsAlive(ctx, acc.ID, charID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !alive {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}
	if err := h.ledger.DeleteCharacter(ctx, acc, charID); err != nil {
		h.writeLeaseError(c, err, "delete character")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// writeLeaseError reports a held account lease as 409; anything else is
// logged and reported as 500.
func (h *CharacterHandler) writeLeaseError(c *gin.Context, err error, op string) {
	if errors.Is(err, lease.ErrLocked) || errors.Is(err, lease.ErrNotHeld) {
		c.JSON(http.StatusConflict, gin.H{"error": "account in use"})
		return
	}
	h.logger.Error(op+" failed", zap.Int64("account_id", mw.GetAccountID(c)), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/realmcore/config"
	mw "github.com/kasuganosora/realmcore/middleware"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	store  *store.Store
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(st *store.Store, sec config.SecurityConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{store: st, sec: sec, logger: logger}
}

type registerRequest struct {
	UUID     string `json:"uuid"     binding:"required,min=2,max=64"`
	Password string `json:"password" binding:"required,min=4,max=64"`
	Name     string `json:"name"     binding:"omitempty,alpha,min=1,max=10"`
}

type loginRequest struct {
	UUID     string `json:"uuid"     binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc, err := h.store.Register(c.Request.Context(), req.UUID, req.Password, req.Name)
	if errors.Is(err, store.ErrUsedName) {
		c.JSON(http.StatusConflict, gin.H{"error": "name already in use"})
		return
	}
	if err != nil {
		h.logger.Error("register failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	h.issue(c, http.StatusCreated, acc)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc, err := h.store.Verify(c.Request.Context(), req.UUID, req.Password)
	switch {
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	case err != nil:
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if acc.IsBanned(time.Now()) {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	}
	h.issue(c, http.StatusOK, acc)
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	token, err := mw.GenerateToken(accountID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *AuthHandler) issue(c *gin.Context, status int, acc *model.Account) {
	token, err := mw.GenerateToken(acc.ID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(status, gin.H{
		"token":      token,
		"account_id": acc.ID,
		"name":       acc.Name,
	})
}

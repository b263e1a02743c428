package handler

import (
	"net/http"

	"Community_Access/internal/pkg"

	"github.com/gin-gonic/gin"
)

// TokenHandler 账号体系在上游，这里只负责刷新令牌和开发环境签发
type TokenHandler struct {
	tokens *pkg.JWT
}

func NewTokenHandler(tokens *pkg.JWT) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// Refresh 利用 refresh 来更新 access
func (h *TokenHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}

	pair, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"msg": err.Error()})
		return
	}
	ok(c, pair)
}

// Dev 仅在 debug 模式下注册
func (h *TokenHandler) Dev(c *gin.Context) {
	var req struct {
		UserID uint64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	pair, err := h.tokens.GeneratePair(req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, pair)
}

package handler

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"github.com/mlorenzo/facturable-api/internal/config"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/dto/request"
	"github.com/mlorenzo/facturable-api/internal/presentation/http/dto/response"
	"github.com/mlorenzo/facturable-api/pkg/utils"
)

// AuthHandler exchanges the configured API key for access tokens
type AuthHandler struct {
	jwtManager *utils.JWTManager
	cfg        *config.JWTConfig
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(jwtManager *utils.JWTManager, cfg *config.JWTConfig) *AuthHandler {
	return &AuthHandler{jwtManager: jwtManager, cfg: cfg}
}

// Token handles POST /auth/token
func (h *AuthHandler) Token(c *gin.Context) {
	var req request.AuthTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "api_key is required")
		return
	}

	if h.cfg.APIKey == "" {
		response.Unauthorized(c, "API access is not configured")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(h.cfg.APIKey)) != 1 {
		response.Unauthorized(c, "Invalid API key")
		return
	}

	clientName := req.ClientName
	if clientName == "" {
		clientName = "default"
	}

	token, err := h.jwtManager.GenerateAccessToken(clientName)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "Token issued", gin.H{"token": token})
}

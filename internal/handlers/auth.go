package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// LoginRequest is the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is the login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// IdentityClaims are the claims carried by an HTTP identity token.
// Identity tokens gate token issuance and room administration; they are
// distinct from the room-scoped capability tokens used over signaling
// sessions.
type IdentityClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// LoginHandler issues HTTP identity tokens. Credential validation is a
// stub: any username/password pair is accepted and the username becomes
// the user id.
type LoginHandler struct {
	JWTSecret string
	TokenTTL  time.Duration
	Log       *zap.Logger
}

func (h *LoginHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID := req.Username

	now := time.Now()
	claims := IdentityClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(h.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(h.JWTSecret))
	if err != nil {
		h.Log.Error("failed to sign identity token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	h.Log.Info("identity token issued", zap.String("userId", userID))

	c.JSON(http.StatusOK, LoginResponse{
		Token:  tokenString,
		UserID: userID,
	})
}

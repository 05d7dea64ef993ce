package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"easyimg/internal/models"
	"easyimg/internal/security"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

type loginResponse struct {
	AccessToken string       `json:"accessToken"`
	User        userResponse `json:"user"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.Users.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	ok, err := security.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if user.Status != models.UserStatusActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "account suspended"})
		return
	}

	token, err := security.GenerateAccessToken(h.Cfg.Security.JWTSecret, user.ID, user.Username, string(user.Role), h.Cfg.Security.JWTTTL)
	if err != nil {
		h.Log.Error().Err(err).Msg("sign token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.Notifier.SendLogin(c.Request.Context(), user.Username, c.ClientIP(), c.GetHeader("User-Agent"))

	c.JSON(http.StatusOK, loginResponse{
		AccessToken: token,
		User:        toUserResponse(user),
	})
}

func (h HandlerSet) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func toUserResponse(user models.User) userResponse {
	return userResponse{
		ID:       user.ID,
		Username: user.Username,
		Role:     string(user.Role),
		Status:   string(user.Status),
	}
}

func currentUser(c *gin.Context) (models.User, bool) {
	val, exists := c.Get("current_user")
	if !exists {
		return models.User{}, false
	}
	user, ok := val.(models.User)
	return user, ok
}

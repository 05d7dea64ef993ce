package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"easyimg/internal/models"
	"easyimg/internal/moderation"
	"easyimg/internal/notify"
)

func (h HandlerSet) GetNotificationSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.Notifier.LoadConfig(c.Request.Context()))
}

func (h HandlerSet) PutNotificationSettings(c *gin.Context) {
	var cfg notify.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Notifier.SaveConfig(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Notifier.LoadConfig(c.Request.Context()))
}

type channelTestRequest struct {
	Method notify.Method `json:"method" binding:"required"`
	Config notify.Config `json:"config"`
}

// TestNotificationChannel pushes a synthetic event through one channel
// using the submitted settings, so operators can verify credentials before
// saving them.
func (h HandlerSet) TestNotificationChannel(c *gin.Context) {
	var req channelTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.Notifier.TestChannel(c.Request.Context(), req.Method, req.Config)
	if !result.Success {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h HandlerSet) GetModerationSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.Moderation.LoadConfig(c.Request.Context()))
}

func (h HandlerSet) PutModerationSettings(c *gin.Context) {
	var cfg moderation.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Moderation.SaveConfig(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Moderation.LoadConfig(c.Request.Context()))
}

func (h HandlerSet) ListModerationProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.Moderation.Supported()})
}

func (h HandlerSet) ModerationStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats := gin.H{}
	for _, status := range []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusProcessing,
		models.TaskStatusDone,
		models.TaskStatusError,
	} {
		count, err := h.Tasks.CountByStatus(ctx, status)
		if err != nil {
			h.Log.Error().Err(err).Msg("count tasks failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		stats[string(status)] = count
	}
	c.JSON(http.StatusOK, stats)
}

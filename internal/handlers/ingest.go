package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"easyimg/internal/service"
)

type ingestRequest struct {
	URLs []string `json:"urls" binding:"required"`
}

// IngestURLs runs a batch URL ingestion and streams per-URL progress as
// server-sent events. Validation failures are reported as a plain JSON
// error before the stream starts; once streaming, failures arrive as an
// "error" event.
func (h HandlerSet) IngestURLs(c *gin.Context) {
	user, _ := currentUser(c)

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	total := 0
	for _, raw := range req.URLs {
		if strings.TrimSpace(raw) != "" {
			total++
		}
	}
	if total == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ErrNoURLs.Error()})
		return
	}
	if max := h.Cfg.Upload.MaxBatchURLs; max > 0 && total > max {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ErrTooManyURLs.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	emit := func(name string, message any) {
		c.SSEvent(name, message)
		c.Writer.Flush()
	}

	emit("start", gin.H{"total": total})

	summary, err := h.Ingest.IngestBatch(c.Request.Context(), req.URLs, user.Username, c.ClientIP(), func(item service.IngestItem) {
		status := "success"
		if !item.Success {
			status = "error"
		}
		emit("progress", gin.H{
			"index":  item.Index,
			"total":  total,
			"url":    item.URL,
			"status": status,
			"data":   item,
		})
	})
	if err != nil && !errors.Is(err, c.Request.Context().Err()) {
		emit("error", gin.H{"error": err.Error()})
		return
	}

	emit("complete", summary)
}

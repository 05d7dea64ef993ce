package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"easyimg/internal/models"
	"easyimg/internal/repository"
	"easyimg/internal/service"
)

type imageResponse struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	Filename     string `json:"filename"`
	Format       string `json:"format"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
	UploadSource string `json:"uploadSource"`
	SourceURL    string `json:"sourceUrl,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

func (h HandlerSet) toImageResponse(image models.Image) imageResponse {
	return imageResponse{
		ID:           image.ID,
		OriginalName: image.OriginalName,
		Filename:     image.Filename,
		Format:       image.Format,
		Size:         image.SizeBytes,
		URL:          h.Store.PublicURL(image.Filename),
		UploadSource: string(image.UploadSource),
		SourceURL:    image.SourceURL,
		CreatedAt:    image.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h HandlerSet) UploadImage(c *gin.Context) {
	user, _ := currentUser(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if max := h.Cfg.Upload.MaxFileSize; max > 0 && fileHeader.Size > max {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Upload.Upload(c.Request.Context(), service.UploadInput{
		Data:         data,
		OriginalName: fileHeader.Filename,
		DeclaredMIME: fileHeader.Header.Get("Content-Type"),
		Uploader:     user.Username,
		Source:       models.UploadSourceWeb,
		IP:           c.ClientIP(),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, h.toImageResponse(result.Image))
}

func (h HandlerSet) ListImages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	images, err := h.Images.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.Log.Error().Err(err).Msg("list images failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]imageResponse, 0, len(images))
	for _, image := range images {
		items = append(items, h.toImageResponse(image))
	}
	c.JSON(http.StatusOK, gin.H{"images": items, "limit": limit, "offset": offset})
}

func (h HandlerSet) GetImage(c *gin.Context) {
	image, err := h.Images.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
			return
		}
		h.Log.Error().Err(err).Msg("get image failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, h.toImageResponse(image))
}

type moderationStatusResponse struct {
	TaskID   string             `json:"taskId"`
	Status   string             `json:"status"`
	Attempts int                `json:"attempts"`
	Result   *models.TaskResult `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func (h HandlerSet) GetImageModeration(c *gin.Context) {
	task, err := h.Tasks.GetByImageID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no moderation task for image"})
			return
		}
		h.Log.Error().Err(err).Msg("get moderation task failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, moderationStatusResponse{
		TaskID:   task.ID,
		Status:   string(task.Status),
		Attempts: task.Attempts,
		Result:   task.Result,
		Error:    task.ErrorMessage,
	})
}

// DeleteImage soft-deletes the row. The object and the row are purged by
// the daily sweep; the moderation task row stays as an audit record.
func (h HandlerSet) DeleteImage(c *gin.Context) {
	if err := h.Images.SoftDelete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
			return
		}
		h.Log.Error().Err(err).Msg("delete image failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

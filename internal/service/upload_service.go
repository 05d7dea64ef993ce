package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"easyimg/internal/config"
	"easyimg/internal/ids"
	"easyimg/internal/media/sniffer"
	"easyimg/internal/models"
	"easyimg/internal/notify"
)

type UploadInput struct {
	Data         []byte
	OriginalName string
	DeclaredMIME string
	Uploader     string
	Source       models.UploadSource
	SourceURL    string
	IP           string
}

type UploadResult struct {
	Image models.Image
	URL   string
}

type ImageStore interface {
	Create(ctx context.Context, image models.Image) error
}

type FileStore interface {
	SaveFile(ctx context.Context, filename string, data []byte, contentType string) error
	PublicURL(filename string) string
}

type TaskStore interface {
	Create(ctx context.Context, task models.ModerationTask) (bool, error)
}

// ModerationGate answers whether new uploads need a moderation task.
type ModerationGate interface {
	Enabled(ctx context.Context) bool
}

type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string) error
}

type UploadNotifier interface {
	SendUpload(ctx context.Context, info notify.UploadInfo) notify.DeliveryResult
}

type UploadService struct {
	images     ImageStore
	tasks      TaskStore
	store      FileStore
	moderation ModerationGate
	enqueuer   Enqueuer
	notifier   UploadNotifier
	cfg        *config.AppConfig
	log        zerolog.Logger
}

func NewUploadService(images ImageStore, tasks TaskStore, store FileStore, moderation ModerationGate, enqueuer Enqueuer, notifier UploadNotifier, cfg *config.AppConfig, log zerolog.Logger) *UploadService {
	return &UploadService{
		images:     images,
		tasks:      tasks,
		store:      store,
		moderation: moderation,
		enqueuer:   enqueuer,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
	}
}

// Upload stores one image: object first, then the metadata row, then the
// moderation task if moderation is on. The upload succeeds even when the
// task cannot be queued; the startup recovery pass picks pending tasks up.
func (s *UploadService) Upload(ctx context.Context, input UploadInput) (UploadResult, error) {
	if len(input.Data) == 0 {
		return UploadResult{}, errors.New("empty file")
	}
	if max := s.cfg.Upload.MaxFileSize; max > 0 && int64(len(input.Data)) > max {
		return UploadResult{}, fmt.Errorf("file exceeds maximum size of %d bytes", max)
	}

	head := input.Data
	if len(head) > 512 {
		head = head[:512]
	}
	detected, err := sniffer.DetectHead(head)
	if err != nil {
		return UploadResult{}, fmt.Errorf("detect type: %w", err)
	}
	if input.DeclaredMIME != "" && input.DeclaredMIME != detected.MIME {
		return UploadResult{}, fmt.Errorf("content type mismatch: declared %s, actual %s", input.DeclaredMIME, detected.MIME)
	}

	imageID := ids.New()
	filename := fmt.Sprintf("%s.%s", imageID, detected.Type)

	if err := s.store.SaveFile(ctx, filename, input.Data, detected.MIME); err != nil {
		return UploadResult{}, fmt.Errorf("save object: %w", err)
	}

	now := time.Now().UTC()
	image := models.Image{
		ID:           imageID,
		OriginalName: input.OriginalName,
		Filename:     filename,
		Format:       string(detected.Type),
		SizeBytes:    int64(len(input.Data)),
		UploadedBy:   input.Uploader,
		UploadSource: input.Source,
		SourceURL:    input.SourceURL,
		IP:           input.IP,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.images.Create(ctx, image); err != nil {
		return UploadResult{}, fmt.Errorf("save metadata: %w", err)
	}

	if s.moderation.Enabled(ctx) {
		s.queueModeration(ctx, image)
	}

	url := s.store.PublicURL(filename)

	if s.notifier != nil {
		s.notifier.SendUpload(ctx, notify.UploadInfo{
			ImageID:  image.ID,
			Filename: image.Filename,
			Format:   image.Format,
			Size:     image.SizeBytes,
			URL:      url,
			Uploader: input.Uploader,
			Source:   string(input.Source),
			IP:       input.IP,
		})
	}

	return UploadResult{Image: image, URL: url}, nil
}

func (s *UploadService) queueModeration(ctx context.Context, image models.Image) {
	task := models.ModerationTask{
		ID:       ids.New(),
		ImageID:  image.ID,
		Filename: image.Filename,
		Status:   models.TaskStatusPending,
	}
	created, err := s.tasks.Create(ctx, task)
	if err != nil {
		s.log.Error().Err(err).Str("image_id", image.ID).Msg("create moderation task failed")
		return
	}
	if !created {
		return
	}
	if err := s.enqueuer.Enqueue(ctx, task.ID); err != nil {
		s.log.Warn().Err(err).Str("task_id", task.ID).Msg("enqueue moderation task failed")
	}
}

package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"easyimg/internal/models"
)

type TaskSweeper interface {
	RequeueErrors(ctx context.Context, maxAttempts int) ([]string, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string) error
}

type ImageStore interface {
	ListDeleted(ctx context.Context) ([]models.Image, error)
	Remove(ctx context.Context, id string) error
}

type FileStore interface {
	Remove(ctx context.Context, filename string) error
}

// Scheduler runs the periodic maintenance jobs: the hourly retry sweep
// that puts errored moderation tasks back in the queue, and the daily
// purge of soft-deleted images.
type Scheduler struct {
	cron        *cron.Cron
	tasks       TaskSweeper
	enqueuer    Enqueuer
	images      ImageStore
	files       FileStore
	maxAttempts int
	log         zerolog.Logger
}

func NewScheduler(tasks TaskSweeper, enqueuer Enqueuer, images ImageStore, files FileStore, maxAttempts int, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		tasks:       tasks,
		enqueuer:    enqueuer,
		images:      images,
		files:       files,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func (s *Scheduler) Start(retrySchedule, purgeSchedule string) error {
	if _, err := s.cron.AddFunc(retrySchedule, s.runRetrySweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(purgeSchedule, s.runPurgeSweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish, up to a
// short grace period.
func (s *Scheduler) Stop() {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) runRetrySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.RetrySweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("retry sweep failed")
	}
}

// RetrySweep moves errored tasks that still have attempts left back to
// pending and wakes the worker for each one.
func (s *Scheduler) RetrySweep(ctx context.Context) error {
	ids, err := s.tasks.RequeueErrors(ctx, s.maxAttempts)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.enqueuer.Enqueue(ctx, id); err != nil {
			s.log.Error().Err(err).Str("task_id", id).Msg("re-enqueue failed")
		}
	}
	if len(ids) > 0 {
		s.log.Info().Int("count", len(ids)).Msg("requeued errored tasks")
	}
	return nil
}

func (s *Scheduler) runPurgeSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := s.PurgeSweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("purge sweep failed")
	}
}

// PurgeSweep permanently removes soft-deleted images: the object first,
// then the row. A failed object delete leaves the row so the next sweep
// tries again.
func (s *Scheduler) PurgeSweep(ctx context.Context) error {
	images, err := s.images.ListDeleted(ctx)
	if err != nil {
		return err
	}

	purged := 0
	for _, image := range images {
		if err := s.files.Remove(ctx, image.Filename); err != nil {
			s.log.Error().Err(err).Str("image_id", image.ID).Msg("purge object failed")
			continue
		}
		if err := s.images.Remove(ctx, image.ID); err != nil {
			s.log.Error().Err(err).Str("image_id", image.ID).Msg("purge row failed")
			continue
		}
		purged++
	}
	if purged > 0 {
		s.log.Info().Int("count", purged).Msg("purged deleted images")
	}
	return nil
}

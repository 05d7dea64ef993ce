package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"easyimg/internal/models"
	"easyimg/internal/moderation"
	"easyimg/internal/notify"
)

// TaskStore is the durable task state the processor advances. Claim is the
// gate: it only succeeds for a pending task, so two workers racing on the
// same ID cannot both process it.
type TaskStore interface {
	Claim(ctx context.Context, id string) (models.ModerationTask, bool, error)
	MarkDone(ctx context.Context, id string, result models.TaskResult) error
	MarkError(ctx context.Context, id string, message string) error
	RequeueStuck(ctx context.Context) ([]string, error)
	PendingIDs(ctx context.Context) ([]string, error)
}

type Moderator interface {
	Moderate(ctx context.Context, imageID, filename string) moderation.Result
}

type Notifier interface {
	SendNsfw(ctx context.Context, outcome notify.ModerationOutcome) notify.DeliveryResult
}

type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string) error
}

// Processor drives one moderation task from claimed to done or error.
type Processor struct {
	tasks     TaskStore
	moderator Moderator
	notifier  Notifier
	urlFor    func(filename string) string
	logger    zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewProcessor(tasks TaskStore, moderator Moderator, notifier Notifier, urlFor func(string) string, logger zerolog.Logger) *Processor {
	return &Processor{
		tasks:     tasks,
		moderator: moderator,
		notifier:  notifier,
		urlFor:    urlFor,
		logger:    logger,
		inFlight:  map[string]struct{}{},
	}
}

// HandleTask processes a single task ID from the stream. Redelivered or
// duplicate wake-ups are harmless: the in-process guard drops concurrent
// duplicates and the conditional claim drops everything not pending.
func (p *Processor) HandleTask(ctx context.Context, taskID string) error {
	if !p.begin(taskID) {
		p.logger.Debug().Str("task_id", taskID).Msg("task already in flight")
		return nil
	}
	defer p.finish(taskID)

	task, claimed, err := p.tasks.Claim(ctx, taskID)
	if err != nil {
		return err
	}
	if !claimed {
		p.logger.Debug().Str("task_id", taskID).Msg("task not pending, skipping")
		return nil
	}

	result := p.moderator.Moderate(ctx, task.ImageID, task.Filename)

	switch {
	case result.Skipped:
		// Moderation was turned off after the task was queued. Close the
		// task without a verdict.
		if err := p.tasks.MarkDone(ctx, taskID, models.TaskResult{}); err != nil {
			return err
		}
		p.logger.Info().Str("task_id", taskID).Msg("moderation disabled, task closed")
		return nil

	case !result.Success:
		if err := p.tasks.MarkError(ctx, taskID, result.Error); err != nil {
			return err
		}
		p.logger.Warn().
			Str("task_id", taskID).
			Str("image_id", task.ImageID).
			Int("attempts", task.Attempts).
			Str("error", result.Error).
			Msg("moderation attempt failed")
		return nil
	}

	verdict := models.TaskResult{
		IsNsfw:   result.IsNsfw,
		Score:    result.Score,
		Provider: result.Provider,
	}
	if err := p.tasks.MarkDone(ctx, taskID, verdict); err != nil {
		return err
	}

	p.logger.Info().
		Str("task_id", taskID).
		Str("image_id", task.ImageID).
		Bool("nsfw", result.IsNsfw).
		Float64("score", result.Score).
		Str("provider", result.Provider).
		Msg("moderation completed")

	// Notification is best effort and never rolls the task back.
	p.notifier.SendNsfw(ctx, notify.ModerationOutcome{
		ImageID:  task.ImageID,
		Filename: task.Filename,
		URL:      p.urlFor(task.Filename),
		IsNsfw:   result.IsNsfw,
		Score:    result.Score,
		Provider: result.Provider,
	})
	return nil
}

// Recover re-enqueues work left over from a previous run: tasks stuck in
// processing go back to pending, then every pending task gets a fresh
// wake-up message.
func (p *Processor) Recover(ctx context.Context, enqueuer Enqueuer) error {
	stuck, err := p.tasks.RequeueStuck(ctx)
	if err != nil {
		return err
	}
	if len(stuck) > 0 {
		p.logger.Warn().Int("count", len(stuck)).Msg("recovered tasks stuck in processing")
	}

	pending, err := p.tasks.PendingIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range pending {
		if err := enqueuer.Enqueue(ctx, id); err != nil {
			p.logger.Error().Err(err).Str("task_id", id).Msg("re-enqueue failed")
		}
	}
	if len(pending) > 0 {
		p.logger.Info().Int("count", len(pending)).Msg("re-enqueued pending tasks")
	}
	return nil
}

func (p *Processor) begin(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[taskID]; busy {
		return false
	}
	p.inFlight[taskID] = struct{}{}
	return true
}

func (p *Processor) finish(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, taskID)
}

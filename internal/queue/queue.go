package queue

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// fieldTaskID is the single field carried on stream messages. The stream
// is a wake-up signal; the task row in Postgres stays the source of truth.
const fieldTaskID = "taskId"

// Producer enqueues moderation task IDs onto the wake-up stream.
type Producer struct {
	client *redis.Client
	stream string
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

func (p *Producer) Enqueue(ctx context.Context, taskID string) error {
	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{fieldTaskID: taskID},
	}).Result()
	return err
}

// TaskHandler processes one task ID pulled off the stream.
type TaskHandler interface {
	HandleTask(ctx context.Context, taskID string) error
}

// Consumer reads task IDs from the stream with a consumer group and hands
// them to the handler. Stalled pending entries are periodically reclaimed
// so a crashed consumer's messages are not lost.
type Consumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	claimInterval time.Duration
	logger        zerolog.Logger
	handler       TaskHandler
}

func NewConsumer(client *redis.Client, stream, group, consumer string, claimInterval time.Duration, logger zerolog.Logger, handler TaskHandler) *Consumer {
	return &Consumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		claimInterval: claimInterval,
		logger:        logger,
		handler:       handler,
	}
}

// EnsureGroup creates the consumer group, tolerating an existing one.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.read(ctx); err != nil {
				c.logger.Error().Err(err).Msg("stream read error")
				time.Sleep(2 * time.Second)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = c.claimStalled(ctx)
		default:
		}
	}
}

func (c *Consumer) read(ctx context.Context) error {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    10,
		Block:    5 * time.Second,
	}).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	for _, stream := range result {
		for _, msg := range stream.Messages {
			c.dispatch(ctx, msg)
		}
	}
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, msg redis.XMessage) {
	taskID, _ := msg.Values[fieldTaskID].(string)
	if taskID == "" {
		c.logger.Warn().Str("message_id", msg.ID).Msg("stream message without task id")
	} else if err := c.handler.HandleTask(ctx, taskID); err != nil {
		c.logger.Error().
			Err(err).
			Str("message_id", msg.ID).
			Str("task_id", taskID).
			Msg("handle task failed")
	}
	// Ack either way: a task that failed here is recovered by the retry
	// sweep from its Postgres row, not by stream redelivery.
	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("ack failed")
	}
}

func (c *Consumer) claimStalled(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if entry.Idle < c.claimInterval {
			continue
		}
		msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimInterval,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			c.logger.Error().Err(err).Msg("claim error")
			continue
		}
		for _, msg := range msgs {
			c.dispatch(ctx, msg)
		}
	}
	return nil
}

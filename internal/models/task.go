package models

import "time"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusError      TaskStatus = "error"
)

// TaskResult is the moderation outcome folded into a finished task.
type TaskResult struct {
	IsNsfw   bool    `json:"isNsfw"`
	Score    float64 `json:"score"`
	Provider string  `json:"provider"`
}

// ModerationTask is one durable detection request per image. A task never
// owns the image row; it outlives the image as an audit record.
type ModerationTask struct {
	ID           string
	ImageID      string
	Filename     string
	Status       TaskStatus
	Attempts     int
	Result       *TaskResult
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

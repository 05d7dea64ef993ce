package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"easyimg/internal/models"
)

var ErrTaskNotFound = errors.New("moderation task not found")

const taskColumns = `id, image_id, filename, status, attempts, result, error_message, created_at, updated_at`

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// Create inserts a task for an image. The image_id unique constraint keeps
// at most one task per image; a duplicate insert is reported as created=false.
func (r *TaskRepository) Create(ctx context.Context, task models.ModerationTask) (bool, error) {
	const query = `
		INSERT INTO moderation_tasks (id, image_id, filename, status, attempts, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, '', NOW(), NOW())
		ON CONFLICT (image_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, task.ID, task.ImageID, task.Filename, models.TaskStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (models.ModerationTask, error) {
	query := fmt.Sprintf(`SELECT %s FROM moderation_tasks WHERE id = $1`, taskColumns)

	task, err := scanTask(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ModerationTask{}, ErrTaskNotFound
		}
		return models.ModerationTask{}, err
	}
	return task, nil
}

func (r *TaskRepository) GetByImageID(ctx context.Context, imageID string) (models.ModerationTask, error) {
	query := fmt.Sprintf(`SELECT %s FROM moderation_tasks WHERE image_id = $1`, taskColumns)

	task, err := scanTask(r.pool.QueryRow(ctx, query, imageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ModerationTask{}, ErrTaskNotFound
		}
		return models.ModerationTask{}, err
	}
	return task, nil
}

// Claim atomically moves a pending task to processing and increments its
// attempt counter. claimed=false means another claimer won or the task is
// not pending; the caller must not process it.
func (r *TaskRepository) Claim(ctx context.Context, id string) (models.ModerationTask, bool, error) {
	query := fmt.Sprintf(`
		UPDATE moderation_tasks
		SET status = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING %s
	`, taskColumns)

	task, err := scanTask(r.pool.QueryRow(ctx, query, id, models.TaskStatusProcessing, models.TaskStatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ModerationTask{}, false, nil
		}
		return models.ModerationTask{}, false, err
	}
	return task, true, nil
}

func (r *TaskRepository) MarkDone(ctx context.Context, id string, result models.TaskResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	const query = `
		UPDATE moderation_tasks
		SET status = $2, result = $3, error_message = '', updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	tag, err := r.pool.Exec(ctx, query, id, models.TaskStatusDone, payload, models.TaskStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) MarkError(ctx context.Context, id string, message string) error {
	const query = `
		UPDATE moderation_tasks
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	tag, err := r.pool.Exec(ctx, query, id, models.TaskStatusError, message, models.TaskStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// RequeueErrors bulk-transitions retryable error tasks back to pending,
// clearing the error message but keeping the attempt count. Returns the
// requeued task IDs so the caller can re-signal the queue.
func (r *TaskRepository) RequeueErrors(ctx context.Context, maxAttempts int) ([]string, error) {
	const query = `
		UPDATE moderation_tasks
		SET status = $1, error_message = '', updated_at = NOW()
		WHERE status = $2 AND attempts < $3
		RETURNING id
	`
	rows, err := r.pool.Query(ctx, query, models.TaskStatusPending, models.TaskStatusError, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanIDs(rows)
}

// RequeueStuck returns processing tasks to pending. Run at worker startup:
// a crash mid-detection leaves tasks in processing and nothing else would
// ever advance them.
func (r *TaskRepository) RequeueStuck(ctx context.Context) ([]string, error) {
	const query = `
		UPDATE moderation_tasks
		SET status = $1, updated_at = NOW()
		WHERE status = $2
		RETURNING id
	`
	rows, err := r.pool.Query(ctx, query, models.TaskStatusPending, models.TaskStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanIDs(rows)
}

// PendingIDs lists tasks waiting for a wake-up signal, oldest first.
func (r *TaskRepository) PendingIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM moderation_tasks WHERE status = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, models.TaskStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanIDs(rows)
}

func (r *TaskRepository) CountByStatus(ctx context.Context, status models.TaskStatus) (int64, error) {
	const query = `SELECT COUNT(*) FROM moderation_tasks WHERE status = $1`
	var count int64
	if err := r.pool.QueryRow(ctx, query, status).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanTask(row pgx.Row) (models.ModerationTask, error) {
	var (
		task    models.ModerationTask
		payload []byte
	)
	if err := row.Scan(
		&task.ID,
		&task.ImageID,
		&task.Filename,
		&task.Status,
		&task.Attempts,
		&payload,
		&task.ErrorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return models.ModerationTask{}, err
	}

	if len(payload) > 0 {
		var result models.TaskResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return models.ModerationTask{}, fmt.Errorf("unmarshal task result: %w", err)
		}
		task.Result = &result
	}
	return task, nil
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

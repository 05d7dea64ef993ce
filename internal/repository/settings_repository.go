package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrSettingNotFound = errors.New("setting not found")

// SettingsRepository stores one JSON document per key. Callers own the
// document shape; the repository only handles (de)serialization.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

func (r *SettingsRepository) Load(ctx context.Context, key string, out any) error {
	const query = `SELECT value FROM settings WHERE key = $1`

	var payload []byte
	if err := r.pool.QueryRow(ctx, query, key).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSettingNotFound
		}
		return err
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("unmarshal setting %s: %w", key, err)
	}
	return nil
}

func (r *SettingsRepository) Save(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting %s: %w", key, err)
	}

	const query = `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	_, err = r.pool.Exec(ctx, query, key, payload)
	return err
}

package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"easyimg/internal/models"
)

var ErrImageNotFound = errors.New("image not found")

type ImageRepository struct {
	pool *pgxpool.Pool
}

func NewImageRepository(pool *pgxpool.Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

func (r *ImageRepository) Create(ctx context.Context, image models.Image) error {
	const query = `
		INSERT INTO images (
			id, original_name, filename, format, size_bytes, width, height,
			is_deleted, uploaded_by, upload_source, source_url, ip, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, NOW(), NOW()
		)
	`

	_, err := r.pool.Exec(ctx, query,
		image.ID,
		image.OriginalName,
		image.Filename,
		image.Format,
		image.SizeBytes,
		image.Width,
		image.Height,
		image.IsDeleted,
		image.UploadedBy,
		image.UploadSource,
		image.SourceURL,
		image.IP,
	)
	return err
}

func (r *ImageRepository) GetByID(ctx context.Context, id string) (models.Image, error) {
	const query = `
		SELECT id, original_name, filename, format, size_bytes, width, height,
		       is_deleted, uploaded_by, upload_source, source_url, ip, created_at, updated_at
		FROM images WHERE id = $1
	`

	row := r.pool.QueryRow(ctx, query, id)
	var image models.Image
	if err := row.Scan(
		&image.ID,
		&image.OriginalName,
		&image.Filename,
		&image.Format,
		&image.SizeBytes,
		&image.Width,
		&image.Height,
		&image.IsDeleted,
		&image.UploadedBy,
		&image.UploadSource,
		&image.SourceURL,
		&image.IP,
		&image.CreatedAt,
		&image.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Image{}, ErrImageNotFound
		}
		return models.Image{}, err
	}
	return image, nil
}

func (r *ImageRepository) List(ctx context.Context, limit, offset int) ([]models.Image, error) {
	const query = `
		SELECT id, original_name, filename, format, size_bytes, width, height,
		       is_deleted, uploaded_by, upload_source, source_url, ip, created_at, updated_at
		FROM images
		WHERE NOT is_deleted
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanImages(rows)
}

// ListDeleted returns soft-deleted images awaiting the hard-delete sweep.
func (r *ImageRepository) ListDeleted(ctx context.Context) ([]models.Image, error) {
	const query = `
		SELECT id, original_name, filename, format, size_bytes, width, height,
		       is_deleted, uploaded_by, upload_source, source_url, ip, created_at, updated_at
		FROM images
		WHERE is_deleted
		ORDER BY updated_at
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanImages(rows)
}

func (r *ImageRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE images SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return nil
}

func (r *ImageRepository) Remove(ctx context.Context, id string) error {
	const query = `DELETE FROM images WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func scanImages(rows pgx.Rows) ([]models.Image, error) {
	var images []models.Image
	for rows.Next() {
		var image models.Image
		if err := rows.Scan(
			&image.ID,
			&image.OriginalName,
			&image.Filename,
			&image.Format,
			&image.SizeBytes,
			&image.Width,
			&image.Height,
			&image.IsDeleted,
			&image.UploadedBy,
			&image.UploadSource,
			&image.SourceURL,
			&image.IP,
			&image.CreatedAt,
			&image.UpdatedAt,
		); err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

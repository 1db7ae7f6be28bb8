package images

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/printcraft/printcraft/internal/imagestore"
)

type Repository interface {
	Create(ctx context.Context, img *imagestore.StoredImage) error
	GetByID(ctx context.Context, id int64) (*imagestore.StoredImage, error)
	GetByFilename(ctx context.Context, filename string) (*imagestore.StoredImage, error)
	CreateGenerationLink(ctx context.Context, link *GenerationLink) error
	ListExpired(ctx context.Context, t imagestore.Type, before time.Time, limit int) ([]*imagestore.StoredImage, error)
	Delete(ctx context.Context, id int64) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const imageColumns = `id, filename, image_type, owner_id, source_image_id, content_type, size_bytes, created_at`

func scanImage(row pgx.Row) (*imagestore.StoredImage, error) {
	img := &imagestore.StoredImage{}
	var typ string
	err := row.Scan(&img.ID, &img.Filename, &typ, &img.OwnerID, &img.SourceImageID,
		&img.ContentType, &img.Size, &img.CreatedAt)
	if err != nil {
		return nil, err
	}
	img.Type = imagestore.Type(typ)
	return img, nil
}

func (r *postgresRepository) Create(ctx context.Context, img *imagestore.StoredImage) error {
	query := `
		INSERT INTO images (filename, image_type, owner_id, source_image_id, content_type, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.pool.QueryRow(ctx, query,
		img.Filename, string(img.Type), img.OwnerID, img.SourceImageID,
		img.ContentType, img.Size, img.CreatedAt).Scan(&img.ID)
	if err != nil {
		return fmt.Errorf("inserting image: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when no image has the id.
func (r *postgresRepository) GetByID(ctx context.Context, id int64) (*imagestore.StoredImage, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = $1`

	img, err := scanImage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying image by id: %w", err)
	}
	return img, nil
}

// GetByFilename returns nil, nil when no image has the filename.
func (r *postgresRepository) GetByFilename(ctx context.Context, filename string) (*imagestore.StoredImage, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE filename = $1`

	img, err := scanImage(r.pool.QueryRow(ctx, query, filename))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying image by filename: %w", err)
	}
	return img, nil
}

func (r *postgresRepository) CreateGenerationLink(ctx context.Context, link *GenerationLink) error {
	query := `
		INSERT INTO generated_images (image_id, prompt_id, owner_id, caller_ip, position)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query,
		link.ImageID, link.PromptID, link.OwnerID, link.CallerIP, link.Position).
		Scan(&link.ID, &link.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting generation link: %w", err)
	}
	return nil
}

// ListExpired returns anonymous images of type t created before the cutoff,
// oldest first.
func (r *postgresRepository) ListExpired(ctx context.Context, t imagestore.Type, before time.Time, limit int) ([]*imagestore.StoredImage, error) {
	query := `
		SELECT ` + imageColumns + `
		FROM images
		WHERE image_type = $1 AND owner_id IS NULL AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, string(t), before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired images: %w", err)
	}
	defer rows.Close()

	var out []*imagestore.StoredImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (r *postgresRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}

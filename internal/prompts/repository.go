package prompts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	GetByID(ctx context.Context, id int64) (*Prompt, error)
	ListActive(ctx context.Context) ([]*Prompt, error)
	Create(ctx context.Context, p *Prompt) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

// GetByID returns nil, nil when no prompt has the id.
func (r *postgresRepository) GetByID(ctx context.Context, id int64) (*Prompt, error) {
	query := `
		SELECT id, title, prompt_text, active, created_at, updated_at
		FROM prompts
		WHERE id = $1`

	p := &Prompt{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.Text, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying prompt by id: %w", err)
	}
	return p, nil
}

func (r *postgresRepository) ListActive(ctx context.Context) ([]*Prompt, error) {
	query := `
		SELECT id, title, prompt_text, active, created_at, updated_at
		FROM prompts
		WHERE active
		ORDER BY title, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing active prompts: %w", err)
	}
	defer rows.Close()

	var out []*Prompt
	for rows.Next() {
		p := &Prompt{}
		if err := rows.Scan(&p.ID, &p.Title, &p.Text, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *postgresRepository) Create(ctx context.Context, p *Prompt) error {
	query := `
		INSERT INTO prompts (title, prompt_text, active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, p.Title, p.Text, p.Active).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting prompt: %w", err)
	}
	return nil
}

package prompts

import "time"

// Prompt is an admin-curated generation prompt. Text is sent upstream as is.
type Prompt struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

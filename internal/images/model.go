package images

import "time"

// GenerationLink ties a generated image to the prompt and caller that
// produced it. Position is 1-based within the originating request.
type GenerationLink struct {
	ID        int64     `json:"id"`
	ImageID   int64     `json:"image_id"`
	PromptID  int64     `json:"prompt_id"`
	OwnerID   *int64    `json:"owner_id,omitempty"`
	CallerIP  string    `json:"-"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// UploadResponse is returned after a source image upload.
type UploadResponse struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

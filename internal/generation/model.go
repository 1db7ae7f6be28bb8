package generation

import (
	"github.com/printcraft/printcraft/internal/crop"
)

// Source is the input photo of a generation: either an Upload or a StoredRef.
type Source interface {
	isSource()
}

// Upload is a freshly uploaded photo. It is stored as a private image before use.
type Upload struct {
	Data        []byte
	ContentType string
}

// StoredRef points at an image the caller stored earlier and must own.
type StoredRef struct {
	ImageID int64
}

func (Upload) isSource()   {}
func (StoredRef) isSource() {}

// Options are forwarded to the generator. Zero values are left to the
// upstream default, except N which defaults to 1.
type Options struct {
	Background string `json:"background" validate:"omitempty,oneof=transparent opaque auto"`
	Quality    string `json:"quality" validate:"omitempty,oneof=low medium high auto"`
	Size       string `json:"size" validate:"omitempty,oneof=1024x1024 1536x1024 1024x1536 auto"`
	N          int    `json:"n" validate:"gte=0,lte=10"`
}

// Request is one generation request.
type Request struct {
	PromptID int64
	Options  Options
	Crop     *crop.Area
	Source   Source
}

// Caller identifies who asked. UserID is nil for anonymous callers.
type Caller struct {
	UserID *int64
	IP     string
}

// Result lists generated images in the order the generator returned them.
type Result struct {
	ImageURLs         []string `json:"image_urls"`
	GeneratedImageIDs []int64  `json:"generated_image_ids"`
}

// UserRequest is the JSON body of an authenticated generation.
type UserRequest struct {
	PromptID      int64      `json:"prompt_id" validate:"required,gt=0"`
	SourceImageID int64      `json:"source_image_id" validate:"required,gt=0"`
	Background    string     `json:"background"`
	Quality       string     `json:"quality"`
	Size          string     `json:"size"`
	N             int        `json:"n"`
	Crop          *crop.Area `json:"crop,omitempty"`
}

// QuotaResponse reports remaining admissions for the caller's category.
type QuotaResponse struct {
	Category  string `json:"category"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Window    string `json:"window"`
}

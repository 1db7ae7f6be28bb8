// Package imagestore resolves image types to storage locations and public
// URLs, validates uploads against per-type policy and converts images that
// are served publicly to a compact web format.
package imagestore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidImage is returned for content the caller must fix (type, size, encoding).
	ErrInvalidImage = errors.New("invalid image")
	// ErrStorage wraps encode/decode and backend I/O failures.
	ErrStorage = errors.New("image storage failure")
	// ErrNotFound is returned when a filename has no stored object.
	ErrNotFound = errors.New("image not found")
)

// Type selects storage bucket, URL prefix, conversion policy and constraints.
type Type string

const (
	TypePrivate   Type = "private"
	TypePublic    Type = "public"
	TypeGenerated Type = "generated"
)

const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypeWebP = "image/webp"
)

// Policy describes where a type lives and what it accepts.
type Policy struct {
	Dir                 string
	MaxSize             int64
	AllowedContentTypes []string
	// Convert re-encodes stored bytes to WebP, discarding the original encoding.
	Convert bool
}

func (p Policy) allows(contentType string) bool {
	for _, ct := range p.AllowedContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}

// DefaultPolicies returns the built-in type table.
func DefaultPolicies() map[Type]Policy {
	return map[Type]Policy{
		TypePrivate: {
			Dir:                 "private",
			MaxSize:             10 << 20,
			AllowedContentTypes: []string{ContentTypeJPEG, ContentTypePNG, ContentTypeWebP},
		},
		TypePublic: {
			Dir:                 "public",
			MaxSize:             10 << 20,
			AllowedContentTypes: []string{ContentTypeJPEG, ContentTypePNG, ContentTypeWebP},
			Convert:             true,
		},
		TypeGenerated: {
			Dir:                 "generated",
			MaxSize:             25 << 20,
			AllowedContentTypes: []string{ContentTypePNG},
		},
	}
}

// ParseType validates a type name coming from a URL or form field.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypePrivate, TypePublic, TypeGenerated:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown image type %q", ErrInvalidImage, s)
}

// StoredImage is a file under management. ID is zero until the record is
// persisted by the images repository.
type StoredImage struct {
	ID            int64     `json:"id"`
	Filename      string    `json:"filename"`
	Type          Type      `json:"type"`
	OwnerID       *int64    `json:"owner_id,omitempty"`
	SourceImageID *int64    `json:"source_image_id,omitempty"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
}

// StoreOptions carries the caller-side hints for Store.
type StoreOptions struct {
	// ContentType is the declared type; it must match the sniffed type when set.
	ContentType   string
	OwnerID       *int64
	SourceImageID *int64
	// Position, when positive, is appended to the filename of generated outputs.
	Position int
}

func extensionFor(contentType string) string {
	switch contentType {
	case ContentTypeJPEG:
		return ".jpg"
	case ContentTypePNG:
		return ".png"
	case ContentTypeWebP:
		return ".webp"
	}
	return ""
}

package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/printcraft/printcraft/internal/metrics"
)

// ConversionQuality is the fixed WebP quality for converted types.
const ConversionQuality = 85

var filenamePattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(_[0-9]{1,3})?\.(jpg|png|webp)$`)

// Backend persists opaque objects under slash-separated keys.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// Store maps image types onto a Backend. The type table is read-only after
// construction, so a Store is safe for concurrent use.
type Store struct {
	backend  Backend
	policies map[Type]Policy
	baseURL  string
	now      func() time.Time
}

// NewStore creates a Store. baseURL is the public origin used by URLFor.
func NewStore(backend Backend, policies map[Type]Policy, baseURL string) *Store {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Store{
		backend:  backend,
		policies: policies,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

// Policy returns the policy of t.
func (s *Store) Policy(t Type) (Policy, bool) {
	p, ok := s.policies[t]
	return p, ok
}

// Validate checks size and content type against the policy of t and returns
// the sniffed content type.
func (s *Store) Validate(data []byte, declared string, t Type) (string, error) {
	p, ok := s.policies[t]
	if !ok {
		return "", fmt.Errorf("%w: unknown image type %q", ErrInvalidImage, t)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidImage)
	}
	if int64(len(data)) > p.MaxSize {
		return "", fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidImage, p.MaxSize)
	}

	sniffed := http.DetectContentType(data)
	if !p.allows(sniffed) {
		return "", fmt.Errorf("%w: content type %s not allowed for %s images", ErrInvalidImage, sniffed, t)
	}
	if declared != "" {
		mt, _, err := mime.ParseMediaType(declared)
		if err != nil || (mt != sniffed && mt != "application/octet-stream") {
			return "", fmt.Errorf("%w: declared content type %q does not match %s", ErrInvalidImage, declared, sniffed)
		}
	}
	return sniffed, nil
}

// Store validates data, converts it when the type requires it and writes it
// under a fresh filename. The returned record is not linked to any entity.
func (s *Store) Store(ctx context.Context, data []byte, t Type, opts StoreOptions) (*StoredImage, error) {
	contentType, err := s.Validate(data, opts.ContentType, t)
	if err != nil {
		return nil, err
	}

	if s.policies[t].Convert {
		data, err = convertToWebP(data)
		if err != nil {
			return nil, err
		}
		contentType = ContentTypeWebP
	}

	filename := newFilename(contentType, opts.Position)
	if err := s.backend.Put(ctx, s.key(t, filename), data, contentType); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %v", ErrStorage, filename, err)
	}

	metrics.ImagesStoredTotal.WithLabelValues(string(t)).Inc()
	slog.Debug("image stored", "filename", filename, "type", t, "size", len(data))

	return &StoredImage{
		Filename:      filename,
		Type:          t,
		OwnerID:       opts.OwnerID,
		SourceImageID: opts.SourceImageID,
		ContentType:   contentType,
		Size:          int64(len(data)),
		CreatedAt:     s.now().UTC(),
	}, nil
}

// Load returns the stored bytes of filename.
func (s *Store) Load(ctx context.Context, filename string, t Type) ([]byte, error) {
	if err := s.check(filename, t); err != nil {
		return nil, err
	}
	data, err := s.backend.Get(ctx, s.key(t, filename))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStorage, filename, err)
	}
	return data, nil
}

// Delete removes filename. It reports false when nothing was stored under it.
func (s *Store) Delete(ctx context.Context, filename string, t Type) (bool, error) {
	if err := s.check(filename, t); err != nil {
		return false, err
	}
	deleted, err := s.backend.Delete(ctx, s.key(t, filename))
	if err != nil {
		return false, fmt.Errorf("%w: deleting %s: %v", ErrStorage, filename, err)
	}
	return deleted, nil
}

// URLFor returns the public URL of filename, or "" when either argument is invalid.
func (s *Store) URLFor(filename string, t Type) string {
	if s.check(filename, t) != nil {
		return ""
	}
	return s.baseURL + "/images/" + string(t) + "/" + filename
}

// ContentTypeOf derives the content type from a managed filename.
func ContentTypeOf(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".jpg"):
		return ContentTypeJPEG
	case strings.HasSuffix(filename, ".png"):
		return ContentTypePNG
	case strings.HasSuffix(filename, ".webp"):
		return ContentTypeWebP
	}
	return "application/octet-stream"
}

// ValidFilename reports whether name could have been produced by Store.
func ValidFilename(name string) bool {
	return filenamePattern.MatchString(name)
}

func (s *Store) check(filename string, t Type) error {
	if _, ok := s.policies[t]; !ok {
		return fmt.Errorf("%w: unknown image type %q", ErrInvalidImage, t)
	}
	if !ValidFilename(filename) {
		return fmt.Errorf("%w: malformed filename", ErrInvalidImage)
	}
	return nil
}

func (s *Store) key(t Type, filename string) string {
	return s.policies[t].Dir + "/" + filename
}

func newFilename(contentType string, position int) string {
	name := uuid.New().String()
	if position > 0 {
		name += "_" + strconv.Itoa(position)
	}
	return name + extensionFor(contentType)
}

func convertToWebP(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding for conversion: %v", ErrStorage, err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: ConversionQuality}); err != nil {
		return nil, fmt.Errorf("%w: encoding webp: %v", ErrStorage, err)
	}
	return buf.Bytes(), nil
}

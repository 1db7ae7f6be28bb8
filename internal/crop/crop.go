// Package crop cuts a rectangle out of an encoded image and re-encodes the
// result in the format it came in.
package crop

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const jpegQuality = 95

var (
	// ErrInvalidArea is returned for a malformed area, before any decoding.
	ErrInvalidArea = errors.New("invalid crop area")
	// ErrOutOfBounds is returned when the area does not fit inside the image.
	ErrOutOfBounds = errors.New("crop area exceeds image bounds")
	// ErrUnsupportedImage is returned when the input cannot be decoded.
	ErrUnsupportedImage = errors.New("unsupported image")
)

// Area is a rectangle in source-image pixel coordinates.
type Area struct {
	X      float64 `json:"x" validate:"gte=0"`
	Y      float64 `json:"y" validate:"gte=0"`
	Width  float64 `json:"width" validate:"gte=1"`
	Height float64 `json:"height" validate:"gte=1"`
}

// Validate checks the area on its own. Bounds against an actual image are
// only known at Apply time.
func (a Area) Validate() error {
	for _, v := range []float64{a.X, a.Y, a.Width, a.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: coordinates must be finite", ErrInvalidArea)
		}
	}
	if a.X < 0 || a.Y < 0 {
		return fmt.Errorf("%w: x and y must be non-negative", ErrInvalidArea)
	}
	if a.Width < 1 || a.Height < 1 {
		return fmt.Errorf("%w: width and height must be at least 1", ErrInvalidArea)
	}
	return nil
}

func (a Area) rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(a.X)),
		int(math.Floor(a.Y)),
		int(math.Ceil(a.X+a.Width)),
		int(math.Ceil(a.Y+a.Height)),
	)
}

// Apply decodes data, extracts area and encodes the result in the source
// format. Coordinates refer to the image as displayed, after EXIF
// orientation. An area that does not fit is an error; it is never clamped.
func Apply(data []byte, area Area) ([]byte, error) {
	if err := area.Validate(); err != nil {
		return nil, err
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	size := img.Bounds().Size()
	if area.X+area.Width > float64(size.X) || area.Y+area.Height > float64(size.Y) {
		return nil, fmt.Errorf("%w: %gx%g at (%g,%g) on %dx%d image",
			ErrOutOfBounds, area.Width, area.Height, area.X, area.Y, size.X, size.Y)
	}

	cropped := imaging.Crop(img, area.rect())
	return encode(cropped, format)
}

func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	case "webp":
		err = webp.Encode(&buf, img, &webp.Options{Lossless: true})
	default:
		return nil, fmt.Errorf("%w: cannot encode %s", ErrUnsupportedImage, format)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Package genclient calls the external image-edit API.
package genclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/printcraft/printcraft/internal/config"
	"github.com/printcraft/printcraft/internal/metrics"
)

// ErrGenerationFailed covers every upstream failure: transport, timeout,
// non-2xx status and unusable response bodies.
var ErrGenerationFailed = errors.New("image generation failed")

const maxErrorBody = 4 << 10

// Options are the rendering options forwarded upstream.
type Options struct {
	Background string
	Quality    string
	Size       string
	N          int
}

// Client sends one edit request per Generate call. It never retries.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a Client from cfg.
func New(cfg config.GenerationConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

type editResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate sends source and prompt upstream and returns the images in the
// order the service produced them.
func (c *Client) Generate(ctx context.Context, source []byte, prompt string, opts Options) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for send slot: %v", ErrGenerationFailed, err)
	}

	body, contentType, err := c.buildForm(source, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrGenerationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/edits", body)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrGenerationFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.GenerationUpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: request: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrGenerationFailed, resp.StatusCode, string(errBody))
	}

	var parsed editResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrGenerationFailed, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: upstream error %s: %s", ErrGenerationFailed, parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%w: response contained no images", ErrGenerationFailed)
	}

	images := make([][]byte, 0, len(parsed.Data))
	for i, d := range parsed.Data {
		if d.B64JSON == "" {
			return nil, fmt.Errorf("%w: image %d has no data", ErrGenerationFailed, i)
		}
		img, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("%w: image %d: %v", ErrGenerationFailed, i, err)
		}
		images = append(images, img)
	}

	slog.Debug("generation upstream call completed",
		"images", len(images),
		"requested", opts.N,
		"duration", time.Since(start),
	)
	return images, nil
}

func (c *Client) buildForm(source []byte, prompt string, opts Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := http.DetectContentType(source)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="image`+extension(contentType)+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(source); err != nil {
		return nil, "", err
	}

	fields := []struct{ name, value string }{
		{"prompt", prompt},
		{"model", c.model},
		{"background", opts.Background},
		{"quality", opts.Quality},
		{"size", opts.Size},
	}
	if opts.N > 0 {
		fields = append(fields, struct{ name, value string }{"n", strconv.Itoa(opts.N)})
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	return ".png"
}

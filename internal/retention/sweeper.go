// Package retention removes anonymous source uploads once they are no longer
// useful for regeneration.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/printcraft/printcraft/internal/imagestore"
	"github.com/printcraft/printcraft/internal/metrics"
)

type Records interface {
	ListExpired(ctx context.Context, t imagestore.Type, before time.Time, limit int) ([]*imagestore.StoredImage, error)
	Delete(ctx context.Context, id int64) error
}

type Files interface {
	Delete(ctx context.Context, filename string, t imagestore.Type) (bool, error)
}

type Sweeper struct {
	records   Records
	files     Files
	maxAge    time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewSweeper(records Records, files Files, maxAge, interval time.Duration, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		records:   records,
		files:     files,
		maxAge:    maxAge,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run sweeps once per interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				slog.Info("retention: removed expired uploads", "count", n)
			}
		}
	}
}

// Sweep deletes one batch of expired anonymous uploads and returns how many
// were removed. A failing image is logged and left for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.maxAge)
	expired, err := s.records.ListExpired(ctx, imagestore.TypePrivate, cutoff, s.batchSize)
	if err != nil {
		slog.Error("retention: listing expired uploads", "error", err)
		return 0
	}

	removed := 0
	for _, img := range expired {
		// File before record, an untracked file would never be swept.
		if _, err := s.files.Delete(ctx, img.Filename, img.Type); err != nil {
			slog.Warn("retention: deleting file", "error", err, "image_id", img.ID, "filename", img.Filename)
			continue
		}
		if err := s.records.Delete(ctx, img.ID); err != nil {
			slog.Warn("retention: deleting record", "error", err, "image_id", img.ID)
			continue
		}
		removed++
	}

	metrics.RetentionDeletedTotal.Add(float64(removed))
	return removed
}

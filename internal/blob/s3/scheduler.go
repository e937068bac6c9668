package s3blob

import (
	"context"
	"log/slog"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

// Scheduler periodically invokes an Archiver's three archive operations
// against a rolling retention cutoff. It is the component that turns the
// otherwise-passive domain.Archiver into a supervised background loop.
type Scheduler struct {
	archiver  domain.Archiver
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler that runs archiver every interval,
// archiving rows older than retention.
func NewScheduler(archiver domain.Archiver, interval, retention time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &Scheduler{
		archiver:  archiver,
		interval:  interval,
		retention: retention,
		logger:    logger.With(slog.String("component", "archive_scheduler")),
	}
}

// Run ticks every s.interval until ctx is cancelled, archiving trades,
// orders, and footprints created before the retention cutoff on each tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("archive scheduler started", slog.Duration("interval", s.interval), slog.Duration("retention", s.retention))
	defer s.logger.Info("archive scheduler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	before := time.Now().Add(-s.retention)

	if n, err := s.archiver.ArchiveTrades(ctx, before); err != nil {
		s.logger.Error("archive trades failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("archived trades", slog.Int64("count", n))
	}

	if n, err := s.archiver.ArchiveOrders(ctx, before); err != nil {
		s.logger.Error("archive orders failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("archived orders", slog.Int64("count", n))
	}

	if n, err := s.archiver.ArchiveFootprints(ctx, before); err != nil {
		s.logger.Error("archive footprints failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("archived footprints", slog.Int64("count", n))
	}
}

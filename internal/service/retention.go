package service

// retention.go removes job files once their download links expire.
//
// The scheduler is long-running and context-aware. A failed sweep is logged
// and retried on the next tick; it never stops the service.

import (
	"context"
	"log/slog"
	"time"
)

// Retention defaults. Download links are advertised as valid for 24h.
const (
	DefaultRetention     = 24 * time.Hour
	DefaultCheckInterval = time.Hour
)

// RetentionConfig controls the retention scheduler. Zero values select the
// defaults.
type RetentionConfig struct {
	Retention     time.Duration
	CheckInterval time.Duration
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}

// StartRetentionScheduler sweeps expired job directories immediately and
// then every CheckInterval until ctx is cancelled.
func (s *Service) StartRetentionScheduler(ctx context.Context, cfg RetentionConfig) {
	cfg = cfg.withDefaults()
	slog.Info("retention scheduler started",
		"retention", cfg.Retention.String(),
		"check_interval", cfg.CheckInterval.String(),
	)

	s.runRetention(cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			s.runRetention(cfg)
		}
	}
}

// isRunning reports whether jobID is still being processed.
func (s *Service) isRunning(jobID string) bool {
	active, err := s.get(jobID)
	if err != nil {
		return false
	}
	return !active.snapshot().Phase.Done()
}

// runRetention performs one sweep and returns the number of jobs removed.
func (s *Service) runRetention(cfg RetentionConfig) int {
	start := time.Now()
	removed, err := s.files.PruneOlderThan(start.Add(-cfg.Retention), s.isRunning)
	if err != nil {
		slog.Error("retention sweep failed", "error", err, "jobs_removed", removed)
		return removed
	}
	slog.Info("retention sweep completed",
		"jobs_removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return removed
}

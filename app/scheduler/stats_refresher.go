// Package scheduler runs periodic background jobs of the dashboard
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CategoryStatsRefresher is the part of the subscriber flow the refresher drives
type CategoryStatsRefresher interface {
	RefreshCategoryStats(ctx context.Context) error
}

// StatsRefresher periodically recomputes the cached per-category subscriber counts
type StatsRefresher struct {
	flow     CategoryStatsRefresher
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewStatsRefresher(flow CategoryStatsRefresher, interval time.Duration, log *zap.Logger) *StatsRefresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	timeout := interval
	if timeout > time.Minute {
		timeout = time.Minute
	}
	return &StatsRefresher{
		flow:     flow,
		interval: interval,
		timeout:  timeout,
		logger:   log.Named("stats_refresher"),
	}
}

// Start launches the refresh loop in a background goroutine and returns a stop function
// that blocks until the loop has exited
func (s *StatsRefresher) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (s *StatsRefresher) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.flow.RefreshCategoryStats(ctx); err != nil {
		if parent.Err() != nil {
			return
		}
		s.logger.Warn("category stats refresh failed", zap.Error(err))
		return
	}
	s.logger.Debug("category stats refreshed", zap.Duration("took", time.Since(start)))
}

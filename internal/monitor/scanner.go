package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ActivitySource finds ASNs with notable recent event volume.
type ActivitySource interface {
	ActiveASNs(ctx context.Context, window time.Duration, minEvents, limit int) ([]int64, error)
}

// Scanner enqueues scoring jobs for the busiest ASNs in the last minute.
// It exists so the registry fills up with the networks actually present in
// the stream, not only the ones a detector flagged.
type Scanner struct {
	source      ActivitySource
	jobs        Enqueuer
	interval    time.Duration
	minEvents   int
	maxPerCycle int
	logger      *zap.Logger
}

func NewScanner(source ActivitySource, jobs Enqueuer, interval time.Duration, minEvents, maxPerCycle int, logger *zap.Logger) *Scanner {
	return &Scanner{
		source:      source,
		jobs:        jobs,
		interval:    interval,
		minEvents:   minEvents,
		maxPerCycle: maxPerCycle,
		logger:      logger,
	}
}

func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Cycle(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("activity scan failed", zap.Error(err))
			}
		}
	}
}

func (s *Scanner) Cycle(ctx context.Context) error {
	asns, err := s.source.ActiveASNs(ctx, time.Minute, s.minEvents, s.maxPerCycle)
	if err != nil {
		return fmt.Errorf("loading active asns: %w", err)
	}
	for _, asn := range asns {
		s.jobs.Enqueue(ctx, asn, "scanner")
	}
	if len(asns) > 0 {
		s.logger.Debug("activity scan enqueued rescores", zap.Int("asns", len(asns)))
	}
	return nil
}

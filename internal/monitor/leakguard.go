package monitor

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/events"
	"github.com/asnwatch/trust-engine/internal/metrics"
)

// tier1 is the fixed set of transit-independent backbones. Very short
// prefixes from these networks are normal aggregates, not leaks.
var tier1 = map[int64]struct{}{
	3356: {}, 1299: {}, 174: {}, 2914: {}, 3257: {}, 6453: {}, 3491: {},
	701: {}, 1239: {}, 7018: {}, 6461: {}, 5511: {}, 3549: {},
}

// IsTier1 reports whether asn is in the backbone set.
func IsTier1(asn int64) bool {
	_, ok := tier1[asn]
	return ok
}

// AnnouncementSource provides recent distinct announcements.
type AnnouncementSource interface {
	RecentAnnouncements(ctx context.Context, window time.Duration) ([]events.Announcement, error)
}

// ThreatSink records a detection.
type ThreatSink interface {
	InsertThreatEvent(ctx context.Context, ev events.ThreatEvent) error
}

// Enqueuer schedules a rescore for a flagged ASN.
type Enqueuer interface {
	Enqueue(ctx context.Context, asn int64, component string)
}

// LeakGuard flags suspiciously short prefixes announced by non-backbone
// origins. The heuristic is deliberately coarse; the scorer aggregates
// detections, so occasional false positives wash out.
type LeakGuard struct {
	source       AnnouncementSource
	sink         ThreatSink
	jobs         Enqueuer
	interval     time.Duration
	maxPrefixLen int
	logger       *zap.Logger
}

func NewLeakGuard(source AnnouncementSource, sink ThreatSink, jobs Enqueuer, interval time.Duration, maxPrefixLen int, logger *zap.Logger) *LeakGuard {
	return &LeakGuard{
		source:       source,
		sink:         sink,
		jobs:         jobs,
		interval:     interval,
		maxPrefixLen: maxPrefixLen,
		logger:       logger,
	}
}

func (g *LeakGuard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Cycle(ctx); err != nil && ctx.Err() == nil {
				g.logger.Error("leak guard cycle failed", zap.Error(err))
			}
		}
	}
}

// Cycle scans announcements from the last guard interval once.
func (g *LeakGuard) Cycle(ctx context.Context) error {
	anns, err := g.source.RecentAnnouncements(ctx, g.interval)
	if err != nil {
		return fmt.Errorf("loading recent announcements: %w", err)
	}

	flagged := 0
	for _, ann := range anns {
		p, err := netip.ParsePrefix(ann.Prefix)
		if err != nil {
			continue
		}
		if p.Bits() > g.maxPrefixLen || IsTier1(ann.ASN) {
			continue
		}
		flagged++
		ev := events.ThreatEvent{
			Timestamp:   time.Now().UTC(),
			ASN:         ann.ASN,
			Source:      "Route Leak Guard",
			Category:    "route_leak",
			TargetIP:    ann.Prefix,
			Description: fmt.Sprintf("Non-backbone origin announced /%d aggregate %s", p.Bits(), ann.Prefix),
		}
		if err := g.sink.InsertThreatEvent(ctx, ev); err != nil {
			g.logger.Error("leak event insert failed", zap.Int64("asn", ann.ASN), zap.Error(err))
			continue
		}
		metrics.ThreatMatchesTotal.WithLabelValues("Route Leak Guard").Inc()
		g.jobs.Enqueue(ctx, ann.ASN, "leak_guard")
	}

	if flagged > 0 {
		g.logger.Info("leak guard flagged announcements",
			zap.Int("scanned", len(anns)),
			zap.Int("flagged", flagged),
		)
	}
	return nil
}

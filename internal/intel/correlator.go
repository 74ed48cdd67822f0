package intel

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/events"
	"github.com/asnwatch/trust-engine/internal/metrics"
)

// RouteSource provides the active routing view to correlate against.
type RouteSource interface {
	ActiveRoutes(ctx context.Context, window time.Duration) ([]events.ActiveRoute, error)
}

// ThreatSink records a detection.
type ThreatSink interface {
	InsertThreatEvent(ctx context.Context, ev events.ThreatEvent) error
}

// Enqueuer schedules a rescore for a flagged ASN.
type Enqueuer interface {
	Enqueue(ctx context.Context, asn int64, component string)
}

// Correlator joins the downloaded block lists against the last hour of
// announced routes. Matches are recorded every cycle with no cross-cycle
// deduplication; repeat listings are themselves a signal, and the scorer
// reads windowed counts rather than raw totals.
type Correlator struct {
	fetcher  *Fetcher
	routes   RouteSource
	sink     ThreatSink
	jobs     Enqueuer
	interval time.Duration
	logger   *zap.Logger
}

func NewCorrelator(fetcher *Fetcher, routes RouteSource, sink ThreatSink, jobs Enqueuer, interval time.Duration, logger *zap.Logger) *Correlator {
	return &Correlator{
		fetcher:  fetcher,
		routes:   routes,
		sink:     sink,
		jobs:     jobs,
		interval: interval,
		logger:   logger,
	}
}

// Run performs one cycle immediately, then repeats on the interval until
// ctx is cancelled.
func (c *Correlator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Cycle(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("correlation cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cycle fetches the feeds and scans the active routing view once.
func (c *Correlator) Cycle(ctx context.Context) error {
	ind := c.fetcher.FetchAll(ctx)
	if len(ind.Prefixes) == 0 && len(ind.IPs) == 0 {
		c.logger.Warn("no threat indicators this cycle, skipping correlation")
		return nil
	}

	routes, err := c.routes.ActiveRoutes(ctx, time.Hour)
	if err != nil {
		return fmt.Errorf("loading active routes: %w", err)
	}

	trie := ind.BuildTrie()
	matched := 0
	for i, route := range routes {
		// Yield every so often so a large table does not starve the
		// other periodic tasks sharing the scheduler.
		if i%500 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}

		label, ok := c.match(ind, trie, route.Prefix)
		if !ok {
			continue
		}
		matched++
		ev := events.ThreatEvent{
			Timestamp:   time.Now().UTC(),
			ASN:         route.ASN,
			Source:      label,
			Category:    "botnet/malware",
			TargetIP:    route.Prefix,
			Description: fmt.Sprintf("Announced prefix %s is on a threat block list", route.Prefix),
		}
		if err := c.sink.InsertThreatEvent(ctx, ev); err != nil {
			c.logger.Error("threat event insert failed", zap.Int64("asn", route.ASN), zap.Error(err))
			continue
		}
		metrics.ThreatMatchesTotal.WithLabelValues(label).Inc()
		c.jobs.Enqueue(ctx, route.ASN, "correlator")
	}

	c.logger.Info("correlation cycle complete",
		zap.Int("routes", len(routes)),
		zap.Int("matches", matched),
		zap.Int("indicator_networks", len(ind.Prefixes)),
		zap.Int("indicator_ips", len(ind.IPs)),
	)
	return nil
}

// match decides whether an announced prefix hits the block lists. Exact
// string match wins; otherwise any shared address space with a listed
// network counts. Address-level containment is not checked here.
func (c *Correlator) match(ind *Indicators, trie *PrefixTrie, prefix string) (string, bool) {
	if _, ok := ind.Exact[prefix]; ok {
		return "Spamhaus (Exact)", true
	}
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return "", false
	}
	if trie.Overlaps(p) {
		return "Spamhaus (Overlap)", true
	}
	return "", false
}

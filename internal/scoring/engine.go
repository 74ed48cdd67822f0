package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/events"
	"github.com/asnwatch/trust-engine/internal/metrics"
	"github.com/asnwatch/trust-engine/internal/registry"
)

// RegistryStore is the registry-side surface the engine needs.
type RegistryStore interface {
	IsWhitelisted(ctx context.Context, asn int64) (bool, error)
	GetSignals(ctx context.Context, asn int64) (*registry.Signals, error)
	InitASN(ctx context.Context, asn int64) (*registry.Signals, error)
	GetRecord(ctx context.Context, asn int64) (*registry.Record, error)
	UpdateMetadata(ctx context.Context, asn int64, name, countryCode string) error
	SetPeeringDBProfile(ctx context.Context, asn int64, has bool) error
	SaveScore(ctx context.Context, asn int64, score int, b registry.Breakdown, level registry.RiskLevel, at time.Time) error
	GetScores(ctx context.Context, asns []int64) ([]int, error)
}

// EventStore is the event-side surface the engine needs.
type EventStore interface {
	UpstreamChurn(ctx context.Context, asn int64, window time.Duration) (int, error)
	RecentWithdrawals(ctx context.Context, asn int64, days int) (int, error)
	CurrentPrefixCount(ctx context.Context, asn int64, window time.Duration) (int, error)
	RecentThreatCount(ctx context.Context, asn int64, days int) (int, error)
	TopUpstreams(ctx context.Context, asn int64, days, limit int) ([]events.UpstreamCount, error)
	DailyEventCounts(ctx context.Context, asn int64, days int) ([]float64, error)
	AppendScore(ctx context.Context, asn int64, score int, at time.Time) error
}

// Enricher fills missing ASN metadata from public directories.
type Enricher interface {
	Holder(ctx context.Context, asn int64) (string, bool)
	Country(ctx context.Context, asn int64) (string, bool)
	HasPeeringDBProfile(ctx context.Context, asn int64) (bool, bool)
}

// Invalidator drops any cached score card after a rescore.
type Invalidator interface {
	Invalidate(ctx context.Context, asn int64)
}

// Engine recomputes one ASN's trust score from its signals snapshot plus
// windowed temporal metrics, then persists the result.
type Engine struct {
	reg    RegistryStore
	events EventStore
	enrich Enricher
	cache  Invalidator
	logger *zap.Logger
}

func NewEngine(reg RegistryStore, events EventStore, enrich Enricher, cache Invalidator, logger *zap.Logger) *Engine {
	return &Engine{reg: reg, events: events, enrich: enrich, cache: cache, logger: logger}
}

// Score runs one full scoring pass for asn and returns the final score.
// Registry and event-store failures abort the run; enrichment failures and
// whitelist lookup failures do not.
func (e *Engine) Score(ctx context.Context, asn int64) (int, error) {
	start := time.Now()
	defer func() {
		metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	}()

	now := time.Now().UTC()

	whitelisted, err := e.reg.IsWhitelisted(ctx, asn)
	if err != nil {
		// A broken whitelist lookup falls through to normal scoring.
		e.logger.Warn("whitelist lookup failed", zap.Int64("asn", asn), zap.Error(err))
		whitelisted = false
	}
	if whitelisted {
		if err := e.reg.SaveScore(ctx, asn, 100, registry.Breakdown{}, registry.LevelLow, now); err != nil {
			return 0, fmt.Errorf("persisting whitelisted score: %w", err)
		}
		if err := e.events.AppendScore(ctx, asn, 100, now); err != nil {
			return 0, fmt.Errorf("appending whitelisted history: %w", err)
		}
		e.cache.Invalidate(ctx, asn)
		return 100, nil
	}

	sig, err := e.reg.GetSignals(ctx, asn)
	if errors.Is(err, registry.ErrNotFound) {
		sig, err = e.reg.InitASN(ctx, asn)
	}
	if err != nil {
		return 0, fmt.Errorf("loading signals for %d: %w", asn, err)
	}

	e.enrichMetadata(ctx, asn, sig)

	tm, err := e.temporalMetrics(ctx, asn)
	if err != nil {
		return 0, fmt.Errorf("computing temporal metrics for %d: %w", asn, err)
	}

	res := Evaluate(*sig, tm)

	if err := e.reg.SaveScore(ctx, asn, res.Score, res.Breakdown, res.Level, now); err != nil {
		return 0, fmt.Errorf("persisting score for %d: %w", asn, err)
	}
	if err := e.events.AppendScore(ctx, asn, res.Score, now); err != nil {
		return 0, fmt.Errorf("appending history for %d: %w", asn, err)
	}
	e.cache.Invalidate(ctx, asn)

	e.logger.Info("asn scored",
		zap.Int64("asn", asn),
		zap.Int("score", res.Score),
		zap.String("level", string(res.Level)),
		zap.Int("rules_fired", len(res.Penalties)),
	)
	return res.Score, nil
}

// ScoreJob adapts Score to the job-consumer callback shape.
func (e *Engine) ScoreJob(ctx context.Context, asn int64) error {
	_, err := e.Score(ctx, asn)
	return err
}

// enrichMetadata is best effort: any failed lookup leaves the stored value
// untouched.
func (e *Engine) enrichMetadata(ctx context.Context, asn int64, sig *registry.Signals) {
	if e.enrich == nil {
		return
	}

	rec, err := e.reg.GetRecord(ctx, asn)
	if err != nil {
		e.logger.Debug("record lookup for enrichment failed", zap.Int64("asn", asn), zap.Error(err))
		return
	}

	if rec.Name == "" || rec.Name == "Unknown" {
		name, okName := e.enrich.Holder(ctx, asn)
		country, okCountry := e.enrich.Country(ctx, asn)
		if okName {
			if !okCountry {
				country = rec.CountryCode
			}
			if err := e.reg.UpdateMetadata(ctx, asn, name, country); err != nil {
				e.logger.Debug("metadata update failed", zap.Int64("asn", asn), zap.Error(err))
			}
		}
	}

	if has, ok := e.enrich.HasPeeringDBProfile(ctx, asn); ok && has != sig.HasPeeringDBProfile {
		if err := e.reg.SetPeeringDBProfile(ctx, asn, has); err != nil {
			e.logger.Debug("peeringdb flag update failed", zap.Int64("asn", asn), zap.Error(err))
		} else {
			sig.HasPeeringDBProfile = has
		}
	}
}

func (e *Engine) temporalMetrics(ctx context.Context, asn int64) (Temporal, error) {
	var tm Temporal
	var err error

	if tm.UpstreamChurn90d, err = e.events.UpstreamChurn(ctx, asn, 90*24*time.Hour); err != nil {
		return tm, err
	}
	if tm.RecentWithdrawals, err = e.events.RecentWithdrawals(ctx, asn, 7); err != nil {
		return tm, err
	}
	if tm.CurrentPrefixCount, err = e.events.CurrentPrefixCount(ctx, asn, 48*time.Hour); err != nil {
		return tm, err
	}
	if tm.RecentThreatCount, err = e.events.RecentThreatCount(ctx, asn, 30); err != nil {
		return tm, err
	}

	ups, err := e.events.TopUpstreams(ctx, asn, 30, 3)
	if err != nil {
		return tm, err
	}
	tm.AvgUpstreamScore = 100
	if len(ups) > 0 {
		asns := make([]int64, 0, len(ups))
		for _, u := range ups {
			asns = append(asns, u.ASN)
		}
		scores, err := e.reg.GetScores(ctx, asns)
		if err != nil {
			return tm, err
		}
		if len(scores) > 0 {
			sum := 0
			for _, sc := range scores {
				sum += sc
			}
			tm.AvgUpstreamScore = float64(sum) / float64(len(scores))
		}
	}

	daily, err := e.events.DailyEventCounts(ctx, asn, 14)
	if err != nil {
		return tm, err
	}
	tm.PredictiveUnstable = predictiveUnstable(daily)

	return tm, nil
}

// predictiveUnstable flags a coefficient of variation above 1.5 on the
// per-day event counts, but only once the mean activity is meaningful.
func predictiveUnstable(daily []float64) bool {
	if len(daily) < 2 {
		return false
	}
	mean, err := stats.Mean(daily)
	if err != nil || mean <= 10 {
		return false
	}
	sd, err := stats.StandardDeviation(daily)
	if err != nil {
		return false
	}
	return sd/mean > 1.5
}

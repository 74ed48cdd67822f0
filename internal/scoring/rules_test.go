package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/asnwatch/trust-engine/internal/registry"
)

func cleanTemporal() Temporal {
	return Temporal{AvgUpstreamScore: 100}
}

func TestEvaluateCleanSlate(t *testing.T) {
	res := Evaluate(registry.DefaultSignals(65001), cleanTemporal())

	assert.Equal(t, 100, res.Score, "clean slate clamps back to 100 after the peering bonus")
	assert.Equal(t, registry.LevelLow, res.Level)
	assert.Equal(t, registry.Breakdown{Stability: 5}, res.Breakdown)
}

func TestEvaluateSpamhausAndBadRPKI(t *testing.T) {
	sig := registry.DefaultSignals(65001)
	sig.SpamhausListed = true
	sig.RPKIInvalidPercent = 5.0

	res := Evaluate(sig, cleanTemporal())

	assert.Equal(t, 55, res.Score)
	assert.Equal(t, registry.LevelHigh, res.Level)
	assert.Equal(t, -20, res.Breakdown.Hygiene)
	assert.Equal(t, -30, res.Breakdown.Threat)
}

func TestEvaluateBotnetPenaltyCapped(t *testing.T) {
	sig := registry.DefaultSignals(65001)
	sig.BotnetC2Count = 3

	res := Evaluate(sig, cleanTemporal())

	assert.Equal(t, 65, res.Score, "three C2 hosts hit the 40-point cap")
	assert.Equal(t, registry.LevelHigh, res.Level)

	sig.BotnetC2Count = 1
	res = Evaluate(sig, cleanTemporal())
	assert.Equal(t, 85, res.Score, "one C2 host costs 20")
}

func TestEvaluateChurnAndPredictive(t *testing.T) {
	tm := cleanTemporal()
	tm.UpstreamChurn90d = 5
	tm.PredictiveUnstable = true

	res := Evaluate(registry.DefaultSignals(65001), tm)

	assert.Equal(t, 65, res.Score)
	assert.Equal(t, -40+5, res.Breakdown.Stability)
}

func TestEvaluateUpstreamScoreTiers(t *testing.T) {
	sig := registry.DefaultSignals(65001)

	tm := cleanTemporal()
	tm.AvgUpstreamScore = 40
	res := Evaluate(sig, tm)
	assert.Equal(t, 90, res.Score, "low-reputation upstreams cost 15")
	assert.Equal(t, -15+5, res.Breakdown.Stability)

	tm.AvgUpstreamScore = 60
	res = Evaluate(sig, tm)
	assert.Equal(t, 100, res.Score, "mid-tier upstream penalty of 5 is offset by the peering bonus")
	assert.Equal(t, 5, res.Breakdown.Stability, "mid-tier penalty hits the total only")

	tm.AvgUpstreamScore = 70
	res = Evaluate(sig, tm)
	assert.Equal(t, 100, res.Score)
}

func TestEvaluateSpamThreshold(t *testing.T) {
	sig := registry.DefaultSignals(65001)
	sig.SpamEmissionRate = 0.1
	res := Evaluate(sig, cleanTemporal())
	assert.Equal(t, 100, res.Score, "rate exactly at 0.1 does not fire")

	sig.SpamEmissionRate = 0.11
	res = Evaluate(sig, cleanTemporal())
	assert.Equal(t, 90, res.Score)
}

func TestEvaluateTier1Bonus(t *testing.T) {
	sig := registry.DefaultSignals(65001)
	sig.HasPeeringDBProfile = false
	sig.UpstreamTier1Count = 2
	sig.SpamhausListed = true

	res := Evaluate(sig, cleanTemporal())

	assert.Equal(t, 75, res.Score, "30 spamhaus penalty, 5 tier-1 diversity bonus")
}

func TestEvaluateClampedToZero(t *testing.T) {
	sig := registry.Signals{
		ASN:                    65001,
		RPKIInvalidPercent:     50,
		HasRouteLeaks:          true,
		HasBogonAds:            true,
		PrefixGranularityScore: 90,
		SpamhausListed:         true,
		SpamEmissionRate:       5,
		BotnetC2Count:          10,
	}
	tm := Temporal{
		UpstreamChurn90d:   10,
		RecentWithdrawals:  500,
		RecentThreatCount:  50,
		AvgUpstreamScore:   10,
		PredictiveUnstable: true,
	}

	res := Evaluate(sig, tm)

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, registry.LevelCritical, res.Level)
}

func TestEvaluateDeterministic(t *testing.T) {
	sig := registry.DefaultSignals(65001)
	sig.SpamhausListed = true
	tm := cleanTemporal()
	tm.UpstreamChurn90d = 3

	first := Evaluate(sig, tm)
	second := Evaluate(sig, tm)

	assert.Equal(t, first, second)
}

func TestEvaluateScoreAlwaysInRange(t *testing.T) {
	cases := []struct {
		sig registry.Signals
		tm  Temporal
	}{
		{registry.DefaultSignals(1), Temporal{AvgUpstreamScore: 100}},
		{registry.Signals{SpamhausListed: true, BotnetC2Count: 100}, Temporal{}},
		{registry.Signals{HasPeeringDBProfile: true, UpstreamTier1Count: 5}, Temporal{AvgUpstreamScore: 100}},
	}
	for _, tc := range cases {
		res := Evaluate(tc.sig, tc.tm)
		assert.GreaterOrEqual(t, res.Score, 0)
		assert.LessOrEqual(t, res.Score, 100)
	}
}

func TestPredictiveUnstable(t *testing.T) {
	// Mean 1.0: too quiet to call unstable regardless of variance.
	quiet := []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2, 12}
	assert.False(t, predictiveUnstable(quiet))

	// Busy and steady: high mean, low variance.
	steady := []float64{100, 101, 99, 100, 102, 98, 100, 100, 101, 99, 100, 100, 101, 99}
	assert.False(t, predictiveUnstable(steady))

	// Bursty: one huge spike against a near-zero baseline.
	bursty := []float64{0, 0, 0, 0, 0, 0, 1000, 0, 0, 0, 0, 0, 0, 0}
	assert.True(t, predictiveUnstable(bursty))

	assert.False(t, predictiveUnstable(nil))
	assert.False(t, predictiveUnstable([]float64{50}))
}

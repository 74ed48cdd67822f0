package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/events"
	"github.com/asnwatch/trust-engine/internal/registry"
)

type fakeRegistry struct {
	whitelisted map[int64]bool
	signals     map[int64]*registry.Signals
	records     map[int64]*registry.Record
	scores      map[int64]int

	saved      []savedScore
	initedASNs []int64
}

type savedScore struct {
	asn   int64
	score int
	b     registry.Breakdown
	level registry.RiskLevel
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		whitelisted: map[int64]bool{},
		signals:     map[int64]*registry.Signals{},
		records:     map[int64]*registry.Record{},
		scores:      map[int64]int{},
	}
}

func (f *fakeRegistry) IsWhitelisted(_ context.Context, asn int64) (bool, error) {
	return f.whitelisted[asn], nil
}

func (f *fakeRegistry) GetSignals(_ context.Context, asn int64) (*registry.Signals, error) {
	if sig, ok := f.signals[asn]; ok {
		return sig, nil
	}
	return nil, registry.ErrNotFound
}

func (f *fakeRegistry) InitASN(_ context.Context, asn int64) (*registry.Signals, error) {
	def := registry.DefaultSignals(asn)
	f.signals[asn] = &def
	f.initedASNs = append(f.initedASNs, asn)
	return &def, nil
}

func (f *fakeRegistry) GetRecord(_ context.Context, asn int64) (*registry.Record, error) {
	if rec, ok := f.records[asn]; ok {
		return rec, nil
	}
	return nil, registry.ErrNotFound
}

func (f *fakeRegistry) UpdateMetadata(_ context.Context, asn int64, name, country string) error {
	f.records[asn].Name = name
	f.records[asn].CountryCode = country
	return nil
}

func (f *fakeRegistry) SetPeeringDBProfile(_ context.Context, asn int64, has bool) error {
	f.signals[asn].HasPeeringDBProfile = has
	return nil
}

func (f *fakeRegistry) SaveScore(_ context.Context, asn int64, score int, b registry.Breakdown, level registry.RiskLevel, _ time.Time) error {
	f.saved = append(f.saved, savedScore{asn, score, b, level})
	return nil
}

func (f *fakeRegistry) GetScores(_ context.Context, asns []int64) ([]int, error) {
	var out []int
	for _, asn := range asns {
		if sc, ok := f.scores[asn]; ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

type fakeEvents struct {
	churn     int
	upstreams []events.UpstreamCount
	daily     []float64

	history []int
}

func (f *fakeEvents) UpstreamChurn(_ context.Context, _ int64, _ time.Duration) (int, error) {
	return f.churn, nil
}
func (f *fakeEvents) RecentWithdrawals(context.Context, int64, int) (int, error)         { return 0, nil }
func (f *fakeEvents) CurrentPrefixCount(context.Context, int64, time.Duration) (int, error) { return 0, nil }
func (f *fakeEvents) RecentThreatCount(context.Context, int64, int) (int, error)         { return 0, nil }
func (f *fakeEvents) TopUpstreams(context.Context, int64, int, int) ([]events.UpstreamCount, error) {
	return f.upstreams, nil
}
func (f *fakeEvents) DailyEventCounts(context.Context, int64, int) ([]float64, error) {
	return f.daily, nil
}
func (f *fakeEvents) AppendScore(_ context.Context, _ int64, score int, _ time.Time) error {
	f.history = append(f.history, score)
	return nil
}

type fakeInvalidator struct {
	dropped []int64
}

func (f *fakeInvalidator) Invalidate(_ context.Context, asn int64) {
	f.dropped = append(f.dropped, asn)
}

func TestScoreWhitelistedShortCircuits(t *testing.T) {
	reg := newFakeRegistry()
	reg.whitelisted[65001] = true
	ev := &fakeEvents{}
	inv := &fakeInvalidator{}

	e := NewEngine(reg, ev, nil, inv, zap.NewNop())
	score, err := e.Score(context.Background(), 65001)

	require.NoError(t, err)
	assert.Equal(t, 100, score)
	require.Len(t, reg.saved, 1)
	assert.Equal(t, savedScore{65001, 100, registry.Breakdown{}, registry.LevelLow}, reg.saved[0])
	assert.Equal(t, []int{100}, ev.history)
	assert.Equal(t, []int64{65001}, inv.dropped)
	assert.Empty(t, reg.initedASNs, "whitelist path must not touch signals")
}

func TestScoreInitializesUnknownASN(t *testing.T) {
	reg := newFakeRegistry()
	ev := &fakeEvents{}

	e := NewEngine(reg, ev, nil, &fakeInvalidator{}, zap.NewNop())
	score, err := e.Score(context.Background(), 65001)

	require.NoError(t, err)
	assert.Equal(t, []int64{65001}, reg.initedASNs)
	assert.Equal(t, 100, score, "clean slate scores 100")
	require.Len(t, reg.saved, 1)
	assert.Equal(t, registry.LevelLow, reg.saved[0].level)
}

func TestScoreAppliesPenalties(t *testing.T) {
	reg := newFakeRegistry()
	sig := registry.DefaultSignals(65001)
	sig.SpamhausListed = true
	sig.RPKIInvalidPercent = 5.0
	reg.signals[65001] = &sig

	e := NewEngine(reg, &fakeEvents{}, nil, &fakeInvalidator{}, zap.NewNop())
	score, err := e.Score(context.Background(), 65001)

	require.NoError(t, err)
	assert.Equal(t, 55, score)
	require.Len(t, reg.saved, 1)
	assert.Equal(t, registry.LevelHigh, reg.saved[0].level)
	assert.Equal(t, -30, reg.saved[0].b.Threat)
}

func TestScoreUsesChurnMetric(t *testing.T) {
	reg := newFakeRegistry()
	sig := registry.DefaultSignals(65001)
	reg.signals[65001] = &sig

	e := NewEngine(reg, &fakeEvents{churn: 5}, nil, &fakeInvalidator{}, zap.NewNop())
	score, err := e.Score(context.Background(), 65001)

	require.NoError(t, err)
	assert.Equal(t, 80, score, "churn above 2 costs 25, peering bonus gives 5 back")
}

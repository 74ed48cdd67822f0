package scoring

import (
	"github.com/asnwatch/trust-engine/internal/registry"
)

// Temporal carries the windowed metrics computed from the event store.
type Temporal struct {
	UpstreamChurn90d   int
	RecentWithdrawals  int
	CurrentPrefixCount int
	RecentThreatCount  int
	AvgUpstreamScore   float64
	PredictiveUnstable bool
}

// Penalty is one fired rule. Points is negative for penalties and positive
// for bonuses. Category is empty when the rule affects the total only.
type Penalty struct {
	Code     string `json:"code"`
	Points   int    `json:"points"`
	Category string `json:"category,omitempty"`
}

// Result is the outcome of one evaluation.
type Result struct {
	Score     int
	Breakdown registry.Breakdown
	Level     registry.RiskLevel
	Penalties []Penalty
}

const (
	categoryHygiene   = "hygiene"
	categoryThreat    = "threat"
	categoryStability = "stability"
)

// Evaluate applies the fixed rule set to one snapshot. It is a pure
// function: identical inputs always yield identical results.
func Evaluate(sig registry.Signals, tm Temporal) Result {
	score := 100
	var b registry.Breakdown
	var fired []Penalty

	penalize := func(code string, points int, category string) {
		score -= points
		switch category {
		case categoryHygiene:
			b.Hygiene -= points
		case categoryThreat:
			b.Threat -= points
		case categoryStability:
			b.Stability -= points
		}
		fired = append(fired, Penalty{Code: code, Points: -points, Category: category})
	}

	if sig.RPKIInvalidPercent > 1.0 {
		penalize("RPKI_INVALID", 20, categoryHygiene)
	}
	if sig.HasRouteLeaks {
		penalize("ROUTE_LEAK", 20, categoryHygiene)
	}
	if sig.HasBogonAds {
		penalize("BOGON_AD", 10, categoryHygiene)
	}
	if sig.PrefixGranularityScore > 50 {
		penalize("PREFIX_GRANULARITY", 10, categoryHygiene)
	}

	if sig.SpamhausListed {
		penalize("THREAT_SPAMHAUS", 30, categoryThreat)
	}
	if sig.BotnetC2Count > 0 {
		p := sig.BotnetC2Count * 20
		if p > 40 {
			p = 40
		}
		penalize("THREAT_BOTNET", p, categoryThreat)
	}
	if sig.SpamEmissionRate > 0.1 {
		penalize("THREAT_SPAM", 15, categoryThreat)
	}
	if tm.RecentThreatCount > 5 {
		penalize("THREAT_HISTORY", 10, categoryThreat)
	}

	if tm.UpstreamChurn90d > 2 {
		penalize("UPSTREAM_CHURN", 25, categoryStability)
	}
	if tm.PredictiveUnstable {
		penalize("PREDICTIVE_INSTABILITY", 15, categoryStability)
	}
	if tm.RecentWithdrawals > 100 {
		penalize("ROUTE_FLAPPING", 5, categoryStability)
	}
	switch {
	case tm.AvgUpstreamScore < 50:
		penalize("UPSTREAM_RISK", 15, categoryStability)
	case tm.AvgUpstreamScore < 70:
		penalize("UPSTREAM_RISK", 5, "")
	}

	bonus := func(code string, points int) {
		score += points
		b.Stability += points
		fired = append(fired, Penalty{Code: code, Points: points, Category: categoryStability})
	}
	if sig.HasPeeringDBProfile {
		bonus("PEERING_PRESENCE", 5)
	}
	if sig.UpstreamTier1Count > 1 {
		bonus("TIER1_DIVERSITY", 5)
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return Result{
		Score:     score,
		Breakdown: b,
		Level:     registry.LevelForScore(score),
		Penalties: fired,
	}
}

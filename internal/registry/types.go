package registry

import "time"

// RiskLevel buckets a total score for human consumption.
type RiskLevel string

const (
	LevelLow      RiskLevel = "LOW"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelHigh     RiskLevel = "HIGH"
	LevelCritical RiskLevel = "CRITICAL"
	LevelUnknown  RiskLevel = "UNKNOWN"
)

// LevelForScore derives the risk level from a clamped total score.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 90:
		return LevelLow
	case score >= 70:
		return LevelMedium
	case score >= 50:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Record is one row of asn_registry. Category scores are stored as
// 100 + delta, where delta is the (negative or positive) category breakdown.
type Record struct {
	ASN             int64
	Name            string
	CountryCode     string
	Registry        string
	TotalScore      int
	HygieneScore    int
	ThreatScore     int
	StabilityScore  int
	RiskLevel       RiskLevel
	DownstreamScore *int
	LastScoredAt    *time.Time
}

// Signals is the per-ASN snapshot row of asn_signals.
type Signals struct {
	ASN                      int64
	RPKIInvalidPercent       float64
	RPKIUnknownPercent       float64
	HasRouteLeaks            bool
	HasBogonAds              bool
	IsStubButTransit         bool
	PrefixGranularityScore   int
	SpamhausListed           bool
	SpamEmissionRate         float64
	BotnetC2Count            int
	PhishingHostingCount     int
	MalwareDistributionCount int
	HasPeeringDBProfile      bool
	UpstreamTier1Count       int
	IsWhoisPrivate           bool
	DDoSBlackholeCount       int
	ExcessivePrependingCount int
}

// DefaultSignals is the clean-slate snapshot assigned on first observation.
func DefaultSignals(asn int64) Signals {
	return Signals{
		ASN:                 asn,
		HasPeeringDBProfile: true,
		UpstreamTier1Count:  1,
	}
}

// Breakdown carries the per-category score deltas of one scoring run.
type Breakdown struct {
	Hygiene   int
	Threat    int
	Stability int
}

// WhitelistEntry short-circuits scoring for operator-trusted networks.
type WhitelistEntry struct {
	ASN     int64
	Reason  string
	AddedAt time.Time
}

// ScoreCard is the joined registry+signals view served by the lookup API.
// HasSignals is false when the signals row is missing (LEFT JOIN miss).
type ScoreCard struct {
	Record
	Signals    Signals
	HasSignals bool
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/metrics"
)

// ErrNotFound is returned for lookups of ASNs the registry has never scored.
var ErrNotFound = errors.New("registry: asn not found")

// Store is the registry-store adapter over Postgres. It owns asn_registry,
// asn_signals and asn_whitelist.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetRecord returns the registry row for asn, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, asn int64) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT asn, name, country_code, COALESCE(registry, ''),
		       total_score, hygiene_score, threat_score, stability_score,
		       risk_level, downstream_score, last_scored_at
		FROM asn_registry WHERE asn = $1`, asn)

	var r Record
	if err := row.Scan(&r.ASN, &r.Name, &r.CountryCode, &r.Registry,
		&r.TotalScore, &r.HygieneScore, &r.ThreatScore, &r.StabilityScore,
		&r.RiskLevel, &r.DownstreamScore, &r.LastScoredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registry record: %w", err)
	}
	return &r, nil
}

// GetSignals returns the signals snapshot for asn, or ErrNotFound.
func (s *Store) GetSignals(ctx context.Context, asn int64) (*Signals, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT asn, rpki_invalid_percent, rpki_unknown_percent,
		       has_route_leaks, has_bogon_ads, is_stub_but_transit, prefix_granularity_score,
		       spamhaus_listed, spam_emission_rate,
		       botnet_c2_count, phishing_hosting_count, malware_distribution_count,
		       has_peeringdb_profile, upstream_tier1_count, is_whois_private,
		       ddos_blackhole_count, excessive_prepending_count
		FROM asn_signals WHERE asn = $1`, asn)

	var sig Signals
	if err := row.Scan(&sig.ASN, &sig.RPKIInvalidPercent, &sig.RPKIUnknownPercent,
		&sig.HasRouteLeaks, &sig.HasBogonAds, &sig.IsStubButTransit, &sig.PrefixGranularityScore,
		&sig.SpamhausListed, &sig.SpamEmissionRate,
		&sig.BotnetC2Count, &sig.PhishingHostingCount, &sig.MalwareDistributionCount,
		&sig.HasPeeringDBProfile, &sig.UpstreamTier1Count, &sig.IsWhoisPrivate,
		&sig.DDoSBlackholeCount, &sig.ExcessivePrependingCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get signals: %w", err)
	}
	return &sig, nil
}

// InitASN creates the registry and signals rows for a newly observed ASN
// with clean-slate defaults. Safe to call concurrently; existing rows win.
func (s *Store) InitASN(ctx context.Context, asn int64) (*Signals, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO asn_registry (asn, total_score, risk_level)
		VALUES ($1, 100, 'UNKNOWN')
		ON CONFLICT (asn) DO NOTHING`, asn); err != nil {
		return nil, fmt.Errorf("init registry row: %w", err)
	}

	def := DefaultSignals(asn)
	if _, err := tx.Exec(ctx, `
		INSERT INTO asn_signals (asn, has_peeringdb_profile, upstream_tier1_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (asn) DO NOTHING`, asn, def.HasPeeringDBProfile, def.UpstreamTier1Count); err != nil {
		return nil, fmt.Errorf("init signals row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit init tx: %w", err)
	}
	return &def, nil
}

// SaveScore upserts the scoring result. Category scores are persisted as
// 100 + delta per the registry convention.
func (s *Store) SaveScore(ctx context.Context, asn int64, score int, b Breakdown, level RiskLevel, at time.Time) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO asn_registry (asn, total_score, hygiene_score, threat_score, stability_score, risk_level, last_scored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (asn) DO UPDATE SET
			total_score     = EXCLUDED.total_score,
			hygiene_score   = EXCLUDED.hygiene_score,
			threat_score    = EXCLUDED.threat_score,
			stability_score = EXCLUDED.stability_score,
			risk_level      = EXCLUDED.risk_level,
			last_scored_at  = EXCLUDED.last_scored_at`,
		asn, score, 100+b.Hygiene, 100+b.Threat, 100+b.Stability, string(level), at)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	metrics.DBWriteDuration.WithLabelValues("registry", "save_score").Observe(time.Since(start).Seconds())
	return nil
}

// UpdateMetadata fills holder name and country code from enrichment.
func (s *Store) UpdateMetadata(ctx context.Context, asn int64, name, countryCode string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE asn_registry SET name = $2, country_code = $3 WHERE asn = $1`,
		asn, name, countryCode)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// SetPeeringDBProfile records whether the ASN has a PeeringDB presence.
func (s *Store) SetPeeringDBProfile(ctx context.Context, asn int64, has bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE asn_signals SET has_peeringdb_profile = $2 WHERE asn = $1`, asn, has)
	if err != nil {
		return fmt.Errorf("set peeringdb profile: %w", err)
	}
	return nil
}

// IsWhitelisted reports whether asn is on the operator whitelist.
func (s *Store) IsWhitelisted(ctx context.Context, asn int64) (bool, error) {
	var found int64
	err := s.pool.QueryRow(ctx, `SELECT asn FROM asn_whitelist WHERE asn = $1`, asn).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("whitelist lookup: %w", err)
	}
	return true, nil
}

// UpsertWhitelist adds or updates a whitelist entry. The table is ensured
// first so a fresh deployment tolerates writes before migrations ran;
// "already exists" is success.
func (s *Store) UpsertWhitelist(ctx context.Context, asn int64, reason string) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS asn_whitelist (
			asn BIGINT PRIMARY KEY,
			reason TEXT,
			added_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("ensure whitelist table: %w", err)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO asn_whitelist (asn, reason) VALUES ($1, $2)
		ON CONFLICT (asn) DO UPDATE SET reason = EXCLUDED.reason`, asn, reason)
	if err != nil {
		return fmt.Errorf("upsert whitelist: %w", err)
	}
	return nil
}

// GetRecords batch-looks up registry rows. Missing ASNs are absent from the map.
func (s *Store) GetRecords(ctx context.Context, asns []int64) (map[int64]*Record, error) {
	out := make(map[int64]*Record, len(asns))
	if len(asns) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT asn, name, country_code, COALESCE(registry, ''),
		       total_score, hygiene_score, threat_score, stability_score,
		       risk_level, downstream_score, last_scored_at
		FROM asn_registry WHERE asn = ANY($1)`, asns)
	if err != nil {
		return nil, fmt.Errorf("batch registry lookup: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ASN, &r.Name, &r.CountryCode, &r.Registry,
			&r.TotalScore, &r.HygieneScore, &r.ThreatScore, &r.StabilityScore,
			&r.RiskLevel, &r.DownstreamScore, &r.LastScoredAt); err != nil {
			return nil, fmt.Errorf("scan registry row: %w", err)
		}
		out[r.ASN] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registry rows: %w", err)
	}
	return out, nil
}

// GetScores batch-looks up total scores for the upstream-reputation metric.
func (s *Store) GetScores(ctx context.Context, asns []int64) ([]int, error) {
	if len(asns) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT total_score FROM asn_registry WHERE asn = ANY($1)`, asns)
	if err != nil {
		return nil, fmt.Errorf("batch score lookup: %w", err)
	}
	defer rows.Close()

	var scores []int
	for rows.Next() {
		var sc int
		if err := rows.Scan(&sc); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating score rows: %w", err)
	}
	return scores, nil
}

// GetScoreCard returns the joined registry+signals view, or ErrNotFound.
func (s *Store) GetScoreCard(ctx context.Context, asn int64) (*ScoreCard, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT r.asn, r.name, r.country_code, COALESCE(r.registry, ''),
		       r.total_score, r.hygiene_score, r.threat_score, r.stability_score,
		       r.risk_level, r.downstream_score, r.last_scored_at,
		       s.asn IS NOT NULL,
		       COALESCE(s.rpki_invalid_percent, 0), COALESCE(s.rpki_unknown_percent, 0),
		       COALESCE(s.has_route_leaks, FALSE), COALESCE(s.has_bogon_ads, FALSE),
		       COALESCE(s.is_stub_but_transit, FALSE), COALESCE(s.prefix_granularity_score, 0),
		       COALESCE(s.spamhaus_listed, FALSE), COALESCE(s.spam_emission_rate, 0),
		       COALESCE(s.botnet_c2_count, 0), COALESCE(s.phishing_hosting_count, 0),
		       COALESCE(s.malware_distribution_count, 0),
		       COALESCE(s.has_peeringdb_profile, FALSE), COALESCE(s.upstream_tier1_count, 0),
		       COALESCE(s.is_whois_private, FALSE),
		       COALESCE(s.ddos_blackhole_count, 0), COALESCE(s.excessive_prepending_count, 0)
		FROM asn_registry r
		LEFT JOIN asn_signals s ON r.asn = s.asn
		WHERE r.asn = $1`, asn)

	var card ScoreCard
	if err := row.Scan(&card.ASN, &card.Name, &card.CountryCode, &card.Registry,
		&card.TotalScore, &card.HygieneScore, &card.ThreatScore, &card.StabilityScore,
		&card.RiskLevel, &card.DownstreamScore, &card.LastScoredAt,
		&card.HasSignals,
		&card.Signals.RPKIInvalidPercent, &card.Signals.RPKIUnknownPercent,
		&card.Signals.HasRouteLeaks, &card.Signals.HasBogonAds,
		&card.Signals.IsStubButTransit, &card.Signals.PrefixGranularityScore,
		&card.Signals.SpamhausListed, &card.Signals.SpamEmissionRate,
		&card.Signals.BotnetC2Count, &card.Signals.PhishingHostingCount,
		&card.Signals.MalwareDistributionCount,
		&card.Signals.HasPeeringDBProfile, &card.Signals.UpstreamTier1Count,
		&card.Signals.IsWhoisPrivate,
		&card.Signals.DDoSBlackholeCount, &card.Signals.ExcessivePrependingCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get score card: %w", err)
	}
	card.Signals.ASN = card.ASN
	return &card, nil
}

// PercentileRank computes the share of registry rows scoring strictly below
// score, as a percentage rounded to one decimal. An empty registry yields 0.
func (s *Store) PercentileRank(ctx context.Context, score int) (float64, error) {
	var below, total int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE total_score < $1), count(*)
		FROM asn_registry`, score).Scan(&below, &total)
	if err != nil {
		return 0, fmt.Errorf("percentile rank: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return math.Round(float64(below)/float64(total)*1000) / 10, nil
}

package events

import (
	"context"
	"fmt"
	"time"
)

// ActiveRoutes returns the latest origin ASN per prefix announced inside the
// window. This is the "active routing view" the threat correlator joins against.
func (s *Store) ActiveRoutes(ctx context.Context, window time.Duration) ([]ActiveRoute, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT prefix, argMax(asn, timestamp) AS asn
		FROM bgp_events
		WHERE timestamp > now() - ?
		GROUP BY prefix`, int64(window.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("active routes query: %w", err)
	}
	defer rows.Close()

	var out []ActiveRoute
	for rows.Next() {
		var r ActiveRoute
		if err := rows.Scan(&r.Prefix, &r.ASN); err != nil {
			return nil, fmt.Errorf("scan active route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentAnnouncements returns distinct (asn, prefix) announcements in the window.
func (s *Store) RecentAnnouncements(ctx context.Context, window time.Duration) ([]Announcement, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT asn, prefix
		FROM bgp_events
		WHERE timestamp > now() - ? AND event_type = 'announce'`, int64(window.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("recent announcements query: %w", err)
	}
	defer rows.Close()

	var out []Announcement
	for rows.Next() {
		var a Announcement
		if err := rows.Scan(&a.ASN, &a.Prefix); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActiveASNs returns ASNs with more than minEvents BGP events inside the
// window, capped at limit.
func (s *Store) ActiveASNs(ctx context.Context, window time.Duration, minEvents, limit int) ([]int64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT asn
		FROM bgp_events
		WHERE timestamp > now() - ?
		GROUP BY asn
		HAVING count() > ?
		LIMIT ?`, int64(window.Seconds()), int64(minEvents), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("active asns query: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var asn int64
		if err := rows.Scan(&asn); err != nil {
			return nil, fmt.Errorf("scan active asn: %w", err)
		}
		out = append(out, asn)
	}
	return out, rows.Err()
}

// UpstreamChurn counts distinct upstream providers seen on announcements
// inside the window.
func (s *Store) UpstreamChurn(ctx context.Context, asn int64, window time.Duration) (int, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `
		SELECT uniq(upstream_as)
		FROM bgp_events
		WHERE asn = ? AND event_type = 'announce' AND timestamp > now() - ?`,
		asn, int64(window.Seconds())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("upstream churn query: %w", err)
	}
	return int(n), nil
}

// RecentWithdrawals sums daily withdraw counts from the daily_metrics
// aggregate over the last `days` days.
func (s *Store) RecentWithdrawals(ctx context.Context, asn int64, days int) (int, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `
		SELECT sum(withdraw_count)
		FROM daily_metrics
		WHERE asn = ? AND date > today() - ?`, asn, int64(days)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("recent withdrawals query: %w", err)
	}
	return int(n), nil
}

// CurrentPrefixCount counts distinct prefixes announced inside the window.
func (s *Store) CurrentPrefixCount(ctx context.Context, asn int64, window time.Duration) (int, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `
		SELECT uniq(prefix)
		FROM bgp_events
		WHERE asn = ? AND timestamp > now() - ?`, asn, int64(window.Seconds())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("current prefix count query: %w", err)
	}
	return int(n), nil
}

// RecentThreatCount counts threat events for asn over the last `days` days.
func (s *Store) RecentThreatCount(ctx context.Context, asn int64, days int) (int, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count()
		FROM threat_events
		WHERE asn = ? AND timestamp > now() - INTERVAL ? DAY`, asn, int64(days)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("recent threat count query: %w", err)
	}
	return int(n), nil
}

// TopUpstreams ranks upstream providers by announcement count over the last
// `days` days, excluding the synthetic upstream 0.
func (s *Store) TopUpstreams(ctx context.Context, asn int64, days, limit int) ([]UpstreamCount, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT upstream_as, count() AS c
		FROM bgp_events
		WHERE asn = ? AND upstream_as != 0 AND timestamp > now() - INTERVAL ? DAY
		GROUP BY upstream_as
		ORDER BY c DESC
		LIMIT ?`, asn, int64(days), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("top upstreams query: %w", err)
	}
	defer rows.Close()

	var out []UpstreamCount
	for rows.Next() {
		var u UpstreamCount
		if err := rows.Scan(&u.ASN, &u.Count); err != nil {
			return nil, fmt.Errorf("scan upstream: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DailyEventCounts returns the per-day BGP event counts for asn over the
// last `days` days, for the predictive-instability metric.
func (s *Store) DailyEventCounts(ctx context.Context, asn int64, days int) ([]float64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT count() AS c
		FROM bgp_events
		WHERE asn = ? AND timestamp > now() - INTERVAL ? DAY
		GROUP BY toDate(timestamp)`, asn, int64(days))
	if err != nil {
		return nil, fmt.Errorf("daily event counts query: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var c uint64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		out = append(out, float64(c))
	}
	return out, rows.Err()
}

// ScoreHistory returns up to days*24 most recent score points, newest first.
func (s *Store) ScoreHistory(ctx context.Context, asn int64, days int) ([]ScorePoint, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT timestamp, score
		FROM asn_score_history
		WHERE asn = ?
		ORDER BY timestamp DESC
		LIMIT ?`, asn, int64(days*24))
	if err != nil {
		return nil, fmt.Errorf("score history query: %w", err)
	}
	defer rows.Close()

	var out []ScorePoint
	for rows.Next() {
		var p ScorePoint
		var score int32
		if err := rows.Scan(&p.Timestamp, &score); err != nil {
			return nil, fmt.Errorf("scan score point: %w", err)
		}
		p.ASN = asn
		p.Score = int(score)
		out = append(out, p)
	}
	return out, rows.Err()
}

package events

import (
	"context"
	"fmt"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/metrics"
)

// Store is the event-store adapter over ClickHouse. It owns the append-only
// relations: bgp_events, threat_events, asn_score_history, api_requests and
// the daily_metrics aggregate.
type Store struct {
	conn   driver.Conn
	logger *zap.Logger
}

// Connect opens the native-protocol connection and verifies it with a ping.
func Connect(ctx context.Context, addr, database, user, password string, logger *zap.Logger) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:  10 * time.Second,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}
	return &Store{conn: conn, logger: logger}, nil
}

// NewStore wraps an existing connection (used by tests and maintenance).
func NewStore(conn driver.Conn, logger *zap.Logger) *Store {
	return &Store{conn: conn, logger: logger}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Conn exposes the underlying connection for maintenance jobs.
func (s *Store) Conn() driver.Conn {
	return s.conn
}

func (s *Store) Close() error {
	return s.conn.Close()
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS bgp_events (
		timestamp   DateTime64(3),
		asn         Int64,
		prefix      String,
		event_type  LowCardinality(String),
		upstream_as Int64,
		path        Array(Int64),
		community   Array(Int64)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(timestamp)
	ORDER BY (asn, timestamp)`,

	`CREATE TABLE IF NOT EXISTS threat_events (
		timestamp   DateTime64(3),
		asn         Int64,
		source      LowCardinality(String),
		category    LowCardinality(String),
		target_ip   String,
		description String
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(timestamp)
	ORDER BY (asn, timestamp)`,

	`CREATE TABLE IF NOT EXISTS asn_score_history (
		timestamp DateTime64(3),
		asn       Int64,
		score     Int32
	) ENGINE = MergeTree()
	ORDER BY (asn, timestamp)`,

	`CREATE TABLE IF NOT EXISTS api_requests (
		timestamp        DateTime64(3),
		endpoint         String,
		method           LowCardinality(String),
		status_code      Int32,
		response_time_ms Float64,
		cache_hit        Bool,
		client_ip        String,
		error_message    String
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(timestamp)
	ORDER BY timestamp`,

	`CREATE TABLE IF NOT EXISTS daily_metrics (
		date           Date,
		asn            Int64,
		announce_count UInt64,
		withdraw_count UInt64
	) ENGINE = SummingMergeTree()
	ORDER BY (asn, date)`,

	`CREATE MATERIALIZED VIEW IF NOT EXISTS daily_metrics_mv TO daily_metrics AS
		SELECT
			toDate(timestamp) AS date,
			asn,
			countIf(event_type = 'announce') AS announce_count,
			countIf(event_type = 'withdraw') AS withdraw_count
		FROM bgp_events
		GROUP BY date, asn`,
}

// EnsureSchema creates the event-store tables and the daily aggregate view.
// Statements are idempotent; concurrent creators are harmless.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensuring event-store schema: %w", err)
		}
	}
	return nil
}

// InsertBGPEvents appends a batch of parsed BGP updates.
func (s *Store) InsertBGPEvents(ctx context.Context, evs []BGPEvent) error {
	if len(evs) == 0 {
		return nil
	}
	start := time.Now()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bgp_events (timestamp, asn, prefix, event_type, upstream_as, path, community)`)
	if err != nil {
		return fmt.Errorf("prepare bgp_events batch: %w", err)
	}
	for _, ev := range evs {
		if err := batch.Append(ev.Timestamp, ev.ASN, ev.Prefix, ev.EventType, ev.UpstreamAS, ev.Path, ev.Community); err != nil {
			return fmt.Errorf("append bgp event: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send bgp_events batch: %w", err)
	}

	metrics.DBWriteDuration.WithLabelValues("events", "bgp_batch").Observe(time.Since(start).Seconds())
	metrics.BatchSize.WithLabelValues("bgp").Observe(float64(len(evs)))
	return nil
}

// InsertThreatEvent appends a single threat detection.
func (s *Store) InsertThreatEvent(ctx context.Context, ev ThreatEvent) error {
	start := time.Now()
	err := s.conn.Exec(ctx, `
		INSERT INTO threat_events (timestamp, asn, source, category, target_ip, description)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Timestamp, ev.ASN, ev.Source, ev.Category, ev.TargetIP, ev.Description)
	if err != nil {
		return fmt.Errorf("insert threat event: %w", err)
	}
	metrics.DBWriteDuration.WithLabelValues("events", "threat").Observe(time.Since(start).Seconds())
	return nil
}

// AppendScore appends one score-history point. The relation is created on
// first write if the migration has not run yet.
func (s *Store) AppendScore(ctx context.Context, asn int64, score int, at time.Time) error {
	insert := func() error {
		return s.conn.Exec(ctx, `
			INSERT INTO asn_score_history (timestamp, asn, score) VALUES (?, ?, ?)`,
			at, asn, int32(score))
	}
	if err := insert(); err != nil {
		if ensureErr := s.conn.Exec(ctx, schemaDDL[2]); ensureErr != nil {
			return fmt.Errorf("append score history: %w", err)
		}
		if err := insert(); err != nil {
			return fmt.Errorf("append score history: %w", err)
		}
	}
	return nil
}

// LogAPIRequest appends one request-log row.
func (s *Store) LogAPIRequest(ctx context.Context, req APIRequest) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO api_requests (timestamp, endpoint, method, status_code, response_time_ms, cache_hit, client_ip, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Timestamp, req.Endpoint, req.Method, int32(req.StatusCode),
		req.ResponseTimeMs, req.CacheHit, req.ClientIP, req.ErrorMessage)
	if err != nil {
		return fmt.Errorf("log api request: %w", err)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Service    ServiceConfig    `koanf:"service"`
	Postgres   PostgresConfig   `koanf:"postgres"`
	ClickHouse ClickHouseConfig `koanf:"clickhouse"`
	Redis      RedisConfig      `koanf:"redis"`
	Kafka      KafkaConfig      `koanf:"kafka"`
	Stream     StreamConfig     `koanf:"stream"`
	Intel      IntelConfig      `koanf:"intel"`
	Guard      GuardConfig      `koanf:"guard"`
	Scanner    ScannerConfig    `koanf:"scanner"`
	Enrich     EnrichConfig     `koanf:"enrich"`
	API        APIConfig        `koanf:"api"`
	Retention  RetentionConfig  `koanf:"retention"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type PostgresConfig struct {
	Host     string `koanf:"host"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

// DSN renders the keyword/value connection string pgxpool expects.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s", p.Host, p.User, p.Password, p.Database)
}

type ClickHouseConfig struct {
	Addr     string `koanf:"addr"`
	Database string `koanf:"database"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

type RedisConfig struct {
	Addr            string `koanf:"addr"`
	Password        string `koanf:"password"`
	DB              int    `koanf:"db"`
	SocketTimeoutMs int    `koanf:"socket_timeout_ms"`
}

type KafkaConfig struct {
	Brokers  []string `koanf:"brokers"`
	ClientID string   `koanf:"client_id"`
	JobTopic string   `koanf:"job_topic"`
	GroupID  string   `koanf:"group_id"`
}

type StreamConfig struct {
	URL                   string `koanf:"url"`
	CollectorHost         string `koanf:"collector_host"`
	BatchSize             int    `koanf:"batch_size"`
	FlushIntervalMs       int    `koanf:"flush_interval_ms"`
	ReconnectDelaySeconds int    `koanf:"reconnect_delay_seconds"`
}

type IntelConfig struct {
	NetworkListURL      string `koanf:"network_list_url"`
	IPListURL           string `koanf:"ip_list_url"`
	URLListURL          string `koanf:"url_list_url"`
	IntervalHours       int    `koanf:"interval_hours"`
	FetchTimeoutSeconds int    `koanf:"fetch_timeout_seconds"`
}

type GuardConfig struct {
	IntervalSeconds int `koanf:"interval_seconds"`
	MaxPrefixLen    int `koanf:"max_prefix_len"`
}

type ScannerConfig struct {
	IntervalSeconds int `koanf:"interval_seconds"`
	MinEvents       int `koanf:"min_events"`
	MaxPerCycle     int `koanf:"max_per_cycle"`
}

type EnrichConfig struct {
	RIPEstatBaseURL  string `koanf:"ripestat_base_url"`
	PeeringDBBaseURL string `koanf:"peeringdb_base_url"`
	TimeoutSeconds   int    `koanf:"timeout_seconds"`
}

type APIConfig struct {
	SecretKey       string `koanf:"secret_key"`
	CacheTTLSeconds int    `koanf:"cache_ttl_seconds"`
}

type RetentionConfig struct {
	Days     int    `koanf:"days"`
	Timezone string `koanf:"timezone"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: TRUST_ENGINE_KAFKA__BROKERS → kafka.brokers
	if err := k.Load(env.Provider("TRUST_ENGINE_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "TRUST_ENGINE_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := defaults()

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	applyLegacyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "trust-engine-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Postgres: PostgresConfig{
			Host:     "db-metadata",
			User:     "asn_admin",
			Database: "asn_registry",
			MaxConns: 20,
			MinConns: 2,
		},
		ClickHouse: ClickHouseConfig{
			Addr:     "db-timeseries:9000",
			Database: "default",
			User:     "default",
		},
		Redis: RedisConfig{
			Addr:            "broker-cache:6379",
			SocketTimeoutMs: 1000,
		},
		Kafka: KafkaConfig{
			ClientID: "trust-engine",
			JobTopic: "scoring-jobs",
			GroupID:  "trust-engine-scorer",
		},
		Stream: StreamConfig{
			URL:                   "wss://ris-live.ripe.net/v1/ws/",
			CollectorHost:         "rrc21",
			BatchSize:             1000,
			FlushIntervalMs:       2000,
			ReconnectDelaySeconds: 5,
		},
		Intel: IntelConfig{
			NetworkListURL:      "https://www.spamhaus.org/drop/drop.txt",
			IPListURL:           "http://cinsscore.com/list/ci-badguys.txt",
			URLListURL:          "https://urlhaus.abuse.ch/downloads/text_online/",
			IntervalHours:       6,
			FetchTimeoutSeconds: 15,
		},
		Guard: GuardConfig{
			IntervalSeconds: 300,
			MaxPrefixLen:    10,
		},
		Scanner: ScannerConfig{
			IntervalSeconds: 10,
			MinEvents:       5,
			MaxPerCycle:     50,
		},
		Enrich: EnrichConfig{
			RIPEstatBaseURL:  "https://stat.ripe.net/data",
			PeeringDBBaseURL: "https://www.peeringdb.com/api",
			TimeoutSeconds:   5,
		},
		API: APIConfig{
			SecretKey:       "dev-secret",
			CacheTTLSeconds: 60,
		},
		Retention: RetentionConfig{
			Days:     90,
			Timezone: "UTC",
		},
	}
}

// applyLegacyEnv honors the flat variable names the original deployment
// shipped with, so existing compose files keep working.
func applyLegacyEnv(cfg *Config) {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&cfg.Postgres.Host, "DB_META_HOST", "DB_HOST")
	set(&cfg.Postgres.User, "POSTGRES_USER")
	set(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	set(&cfg.Postgres.Database, "POSTGRES_DB")
	set(&cfg.ClickHouse.Addr, "CLICKHOUSE_HOST", "DB_TS_HOST")
	set(&cfg.ClickHouse.User, "CLICKHOUSE_USER")
	set(&cfg.ClickHouse.Password, "CLICKHOUSE_PASSWORD")
	set(&cfg.Redis.Addr, "REDIS_HOST")
	set(&cfg.API.SecretKey, "API_SECRET_KEY")

	if v := os.Getenv("BROKER_URL"); v != "" {
		cfg.Kafka.Brokers = strings.Split(strings.TrimPrefix(v, "kafka://"), ",")
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil {
			cfg.API.CacheTTLSeconds = ttl
		}
	}

	// ClickHouse host without a port gets the native protocol default.
	if cfg.ClickHouse.Addr != "" && !strings.Contains(cfg.ClickHouse.Addr, ":") {
		cfg.ClickHouse.Addr += ":9000"
	}
}

func (c *Config) Validate() error {
	if c.Postgres.Host == "" || c.Postgres.User == "" || c.Postgres.Database == "" {
		return fmt.Errorf("config: postgres host, user and database are required")
	}
	if c.ClickHouse.Addr == "" {
		return fmt.Errorf("config: clickhouse.addr is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required")
	}
	if c.Kafka.JobTopic == "" {
		return fmt.Errorf("config: kafka.job_topic is required")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("config: kafka.group_id is required")
	}
	if c.Stream.BatchSize <= 0 {
		return fmt.Errorf("config: stream.batch_size must be > 0 (got %d)", c.Stream.BatchSize)
	}
	if c.Stream.FlushIntervalMs <= 0 {
		return fmt.Errorf("config: stream.flush_interval_ms must be > 0 (got %d)", c.Stream.FlushIntervalMs)
	}
	if c.Stream.ReconnectDelaySeconds <= 0 {
		return fmt.Errorf("config: stream.reconnect_delay_seconds must be > 0 (got %d)", c.Stream.ReconnectDelaySeconds)
	}
	if c.Intel.IntervalHours <= 0 {
		return fmt.Errorf("config: intel.interval_hours must be > 0 (got %d)", c.Intel.IntervalHours)
	}
	if c.Intel.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("config: intel.fetch_timeout_seconds must be > 0 (got %d)", c.Intel.FetchTimeoutSeconds)
	}
	if c.Guard.IntervalSeconds <= 0 {
		return fmt.Errorf("config: guard.interval_seconds must be > 0 (got %d)", c.Guard.IntervalSeconds)
	}
	if c.Scanner.IntervalSeconds <= 0 {
		return fmt.Errorf("config: scanner.interval_seconds must be > 0 (got %d)", c.Scanner.IntervalSeconds)
	}
	if c.Scanner.MaxPerCycle <= 0 {
		return fmt.Errorf("config: scanner.max_per_cycle must be > 0 (got %d)", c.Scanner.MaxPerCycle)
	}
	if c.API.SecretKey == "" {
		return fmt.Errorf("config: api.secret_key is required")
	}
	if c.API.CacheTTLSeconds <= 0 {
		return fmt.Errorf("config: api.cache_ttl_seconds must be > 0 (got %d)", c.API.CacheTTLSeconds)
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
	}
	if c.Postgres.MinConns < 0 {
		return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("config: retention.days must be > 0 (got %d)", c.Retention.Days)
	}
	if _, err := time.LoadLocation(c.Retention.Timezone); err != nil {
		return fmt.Errorf("config: retention.timezone is invalid: %w", err)
	}
	return nil
}

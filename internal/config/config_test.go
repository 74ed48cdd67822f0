package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRUST_ENGINE_KAFKA__BROKERS", "kafka:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Stream.BatchSize != 1000 || cfg.Stream.FlushIntervalMs != 2000 {
		t.Errorf("stream defaults = %d/%dms", cfg.Stream.BatchSize, cfg.Stream.FlushIntervalMs)
	}
	if cfg.Stream.ReconnectDelaySeconds != 5 {
		t.Errorf("reconnect delay = %d, want 5", cfg.Stream.ReconnectDelaySeconds)
	}
	if cfg.API.CacheTTLSeconds != 60 {
		t.Errorf("cache ttl = %d, want 60", cfg.API.CacheTTLSeconds)
	}
	if cfg.Intel.IntervalHours != 6 {
		t.Errorf("intel interval = %d, want 6", cfg.Intel.IntervalHours)
	}
	if cfg.Guard.MaxPrefixLen != 10 {
		t.Errorf("guard max prefix len = %d, want 10", cfg.Guard.MaxPrefixLen)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("TRUST_ENGINE_KAFKA__BROKERS", "kafka:9092")
	path := writeConfig(t, `
service:
  http_listen: ":9999"
stream:
  collector_host: rrc00
  batch_size: 500
api:
  secret_key: yaml-secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.HTTPListen != ":9999" {
		t.Errorf("http_listen = %q", cfg.Service.HTTPListen)
	}
	if cfg.Stream.CollectorHost != "rrc00" || cfg.Stream.BatchSize != 500 {
		t.Errorf("stream = %q/%d", cfg.Stream.CollectorHost, cfg.Stream.BatchSize)
	}
	if cfg.API.SecretKey != "yaml-secret" {
		t.Errorf("secret = %q", cfg.API.SecretKey)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "service:\n  log_level: info\n")
	t.Setenv("TRUST_ENGINE_SERVICE__LOG_LEVEL", "debug")
	t.Setenv("TRUST_ENGINE_KAFKA__BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("log_level = %q, want env override", cfg.Service.LogLevel)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v, want comma split", cfg.Kafka.Brokers)
	}
}

func TestLegacyEnvNames(t *testing.T) {
	t.Setenv("DB_META_HOST", "pg.internal")
	t.Setenv("POSTGRES_USER", "scorer")
	t.Setenv("POSTGRES_PASSWORD", "hunter2")
	t.Setenv("POSTGRES_DB", "asns")
	t.Setenv("CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("REDIS_HOST", "redis.internal:6379")
	t.Setenv("BROKER_URL", "kafka://broker-1:9092")
	t.Setenv("API_SECRET_KEY", "legacy-secret")
	t.Setenv("CACHE_TTL", "120")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Postgres.Host != "pg.internal" || cfg.Postgres.User != "scorer" || cfg.Postgres.Database != "asns" {
		t.Errorf("postgres = %+v", cfg.Postgres)
	}
	if cfg.ClickHouse.Addr != "ch.internal:9000" {
		t.Errorf("clickhouse addr = %q, want native port appended", cfg.ClickHouse.Addr)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "broker-1:9092" {
		t.Errorf("brokers = %v, want kafka:// scheme stripped", cfg.Kafka.Brokers)
	}
	if cfg.API.SecretKey != "legacy-secret" || cfg.API.CacheTTLSeconds != 120 {
		t.Errorf("api = %+v", cfg.API)
	}

	dsn := cfg.Postgres.DSN()
	want := "host=pg.internal user=scorer password=hunter2 dbname=asns"
	if dsn != want {
		t.Errorf("DSN = %q, want %q", dsn, want)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("TRUST_ENGINE_KAFKA__BROKERS", "kafka:9092")

	cases := []struct {
		key, value string
	}{
		{"TRUST_ENGINE_STREAM__BATCH_SIZE", "0"},
		{"TRUST_ENGINE_INTEL__INTERVAL_HOURS", "-1"},
		{"TRUST_ENGINE_API__CACHE_TTL_SECONDS", "0"},
		{"TRUST_ENGINE_RETENTION__TIMEZONE", "Not/AZone"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(""); err == nil {
				t.Errorf("Load with %s=%s should fail validation", tc.key, tc.value)
			}
		})
	}
}

func TestValidateRequiresBrokers(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("Load without brokers should fail")
	}
}

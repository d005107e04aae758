package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	keys := []string{
		"ORBIT_DATABASE_URL", "ORBIT_KAFKA_BROKERS", "ORBIT_REDIS_URL",
		"ORBIT_POLL_INTERVAL_MS", "ORBIT_BATCH_SIZE", "ORBIT_LEASE_DURATION_MIN",
		"ORBIT_MAX_RETRIES_DEFAULT", "ORBIT_RETENTION_DAYS", "ORBIT_CLEANUP_BATCH_SIZE",
		"ORBIT_CLEANUP_CRON", "ORBIT_INGESTION_PARTITIONS", "ORBIT_CONSUMER_CONCURRENCY",
		"ORBIT_HTTP_CONNECT_TIMEOUT_MS", "ORBIT_HTTP_READ_TIMEOUT_MS", "ORBIT_DEDUP_LRU_SIZE",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected an error when ORBIT_DATABASE_URL is unset")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORBIT_DATABASE_URL", "postgres://localhost/orbit")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("expected 1s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("expected batch size 100, got %d", cfg.BatchSize)
	}
	if cfg.LeaseDuration != 5*time.Minute {
		t.Errorf("expected 5m lease, got %v", cfg.LeaseDuration)
	}
	if cfg.DedupLRUSize != 100_000 {
		t.Errorf("expected dedup lru size 100000, got %d", cfg.DedupLRUSize)
	}
	if cfg.CleanupCron != "0 0 2 * * *" {
		t.Errorf("unexpected default cron: %s", cfg.CleanupCron)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORBIT_DATABASE_URL", "postgres://localhost/orbit")
	t.Setenv("ORBIT_BATCH_SIZE", "250")
	t.Setenv("ORBIT_KAFKA_BROKERS", "broker-1:9092,broker-2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BatchSize != 250 {
		t.Errorf("expected batch size 250, got %d", cfg.BatchSize)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "broker-1:9092" {
		t.Errorf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
}

func TestLoad_RejectsMalformedInt(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORBIT_DATABASE_URL", "postgres://localhost/orbit")
	t.Setenv("ORBIT_BATCH_SIZE", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a malformed integer setting")
	}
}

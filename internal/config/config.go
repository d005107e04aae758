// Package config loads process configuration from the environment. Every
// key has a workable default except DatabaseURL (ORBIT_DATABASE_URL), the
// only required value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every setting the orbit processes (API, poller, persister,
// maintenance loops) recognize.
type Config struct {
	DatabaseURL  string
	KafkaBrokers []string
	RedisURL     string

	IngestionTopic string
	DLQTopic       string
	ConsumerGroup  string

	PollInterval       time.Duration
	BatchSize          int
	LeaseDuration      time.Duration
	MaxRetriesDefault  int
	RetentionDays      int
	CleanupBatchSize   int
	CleanupCron        string
	IngestionPartitions int
	ConsumerConcurrency int
	HTTPConnectTimeout time.Duration
	HTTPReadTimeout    time.Duration
	DedupLRUSize       int

	ListenAddr string
}

// Load reads Config from the environment, applying the defaults in
// spec §6's configuration table for every key that isn't set. DatabaseURL
// is the only value with no sane default: a missing one is a fatal startup
// error, surfaced before any loop starts.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:         os.Getenv("ORBIT_DATABASE_URL"),
		KafkaBrokers:        splitCSV(getEnv("ORBIT_KAFKA_BROKERS", "localhost:9092")),
		RedisURL:            getEnv("ORBIT_REDIS_URL", "redis://localhost:6379/0"),
		IngestionTopic:      getEnv("ORBIT_INGESTION_TOPIC", "orbit.ingestion"),
		DLQTopic:            getEnv("ORBIT_DLQ_TOPIC", "orbit.ingestion.dlq"),
		ConsumerGroup:       getEnv("ORBIT_CONSUMER_GROUP", "orbit-persister"),
		ListenAddr:          getEnv("ORBIT_LISTEN_ADDR", ":8080"),
		CleanupCron:         getEnv("ORBIT_CLEANUP_CRON", "0 0 2 * * *"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("ORBIT_DATABASE_URL is required")
	}

	var err error
	if cfg.PollInterval, err = getEnvMillis("ORBIT_POLL_INTERVAL_MS", 1000); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = getEnvInt("ORBIT_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.LeaseDuration, err = getEnvMinutes("ORBIT_LEASE_DURATION_MIN", 5); err != nil {
		return nil, err
	}
	if cfg.MaxRetriesDefault, err = getEnvInt("ORBIT_MAX_RETRIES_DEFAULT", 3); err != nil {
		return nil, err
	}
	if cfg.RetentionDays, err = getEnvInt("ORBIT_RETENTION_DAYS", 7); err != nil {
		return nil, err
	}
	if cfg.CleanupBatchSize, err = getEnvInt("ORBIT_CLEANUP_BATCH_SIZE", 10_000); err != nil {
		return nil, err
	}
	if cfg.IngestionPartitions, err = getEnvInt("ORBIT_INGESTION_PARTITIONS", 24); err != nil {
		return nil, err
	}
	if cfg.ConsumerConcurrency, err = getEnvInt("ORBIT_CONSUMER_CONCURRENCY", 10); err != nil {
		return nil, err
	}
	if cfg.HTTPConnectTimeout, err = getEnvMillis("ORBIT_HTTP_CONNECT_TIMEOUT_MS", 5000); err != nil {
		return nil, err
	}
	if cfg.HTTPReadTimeout, err = getEnvMillis("ORBIT_HTTP_READ_TIMEOUT_MS", 30_000); err != nil {
		return nil, err
	}
	if cfg.DedupLRUSize, err = getEnvInt("ORBIT_DEDUP_LRU_SIZE", 100_000); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvMillis(key string, fallbackMs int) (time.Duration, error) {
	n, err := getEnvInt(key, fallbackMs)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func getEnvMinutes(key string, fallbackMin int) (time.Duration, error) {
	n, err := getEnvInt(key, fallbackMin)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Minute, nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

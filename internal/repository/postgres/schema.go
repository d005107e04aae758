package postgres

// Schema is the DDL for the events table. The table is range-partitioned on
// partition_key; PartitionManager (partitions.go) creates the physical
// partitions that this statement leaves to be attached later, since pgx does
// not run DDL triggers and this repo deliberately keeps partition creation
// out of the database (see spec's partition-auto-creation design note).
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id              UUID NOT NULL,
	external_job_id VARCHAR(255) NOT NULL,
	source          VARCHAR(100) NOT NULL,
	scheduled_at    TIMESTAMPTZ NOT NULL,
	delivery_type   VARCHAR(20) NOT NULL,
	destination     VARCHAR(2048) NOT NULL,
	payload         JSONB NOT NULL,
	status          VARCHAR(20) NOT NULL DEFAULT 'pending',
	retry_count     INT NOT NULL DEFAULT 0,
	max_retries     INT NOT NULL DEFAULT 3,
	last_error      VARCHAR(4000),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	executed_at     TIMESTAMPTZ,
	locked_by       VARCHAR(100),
	lock_expires_at TIMESTAMPTZ,
	partition_key   INT NOT NULL,
	PRIMARY KEY (id, partition_key)
) PARTITION BY RANGE (partition_key);

CREATE UNIQUE INDEX IF NOT EXISTS uq_events_dedup
	ON events (external_job_id, source, scheduled_at, partition_key);

CREATE INDEX IF NOT EXISTS idx_events_poll
	ON events (scheduled_at)
	WHERE status IN ('pending', 'processing');

CREATE INDEX IF NOT EXISTS idx_events_external_job_id
	ON events (external_job_id);

CREATE INDEX IF NOT EXISTS idx_events_lock_expiry
	ON events (lock_expires_at)
	WHERE status = 'processing';

CREATE INDEX IF NOT EXISTS idx_events_retention
	ON events (status, executed_at)
	WHERE status IN ('completed', 'dead_letter', 'cancelled');
`

// partitionDDLTemplate is the format string for the CREATE TABLE statement of
// a single ten-day partition covering [fromKey, toKey).
const partitionDDLTemplate = `
CREATE TABLE IF NOT EXISTS events_p%d PARTITION OF events
	FOR VALUES FROM (%d) TO (%d);
`

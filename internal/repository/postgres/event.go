package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydock/orbit/internal/domain"
)

const uniqueViolation = "23505"

// EventRepository is the pgx-backed implementation of repository.EventStore.
type EventRepository struct {
	pool    *pgxpool.Pool
	batcher *EventBatcher
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// WithBatcher enables batched inserts for higher ingestion throughput; once
// set, Insert enqueues onto the batcher instead of issuing a direct INSERT.
func (r *EventRepository) WithBatcher(config BatcherConfig) *EventRepository {
	r.batcher = NewEventBatcher(r.pool, config)
	return r
}

func (r *EventRepository) Shutdown(ctx context.Context) error {
	if r.batcher != nil {
		return r.batcher.Shutdown(ctx)
	}
	return nil
}

func (r *EventRepository) Insert(ctx context.Context, event *domain.Event) error {
	if r.batcher != nil {
		return r.batcher.Add(ctx, event)
	}
	return insertOne(ctx, r.pool, event)
}

func insertOne(ctx context.Context, q queryer, event *domain.Event) error {
	const query = `
		INSERT INTO events (id, external_job_id, source, scheduled_at, delivery_type,
		                     destination, payload, status, retry_count, max_retries,
		                     created_at, updated_at, partition_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := q.Exec(ctx, query,
		event.ID, event.ExternalJobID, event.Source, event.ScheduledAt, event.DeliveryType,
		event.Destination, event.Payload, event.Status, event.RetryCount, event.MaxRetries,
		event.CreatedAt, event.UpdatedAt, event.PartitionKey,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicate
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *EventRepository) Exists(ctx context.Context, externalJobID, source string, scheduledAt time.Time) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM events
			WHERE external_job_id = $1 AND source = $2 AND scheduled_at = $3
		)
	`
	var exists bool
	err := r.pool.QueryRow(ctx, query, externalJobID, source, scheduledAt).Scan(&exists)
	return exists, err
}

// ClaimDue is the skip-locked batch claim at the heart of the Lease Poller.
// Concurrent callers race to claim disjoint rows: SKIP LOCKED means a row
// locked by another in-flight claim is simply excluded from this one.
func (r *EventRepository) ClaimDue(ctx context.Context, workerID string, now, leaseUntil time.Time, limit int) ([]*domain.Event, error) {
	const query = `
		UPDATE events
		SET status = 'processing', locked_by = $1, lock_expires_at = $2, updated_at = $3
		WHERE id IN (
			SELECT id FROM events
			WHERE status = 'pending' AND scheduled_at <= $3
			ORDER BY scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		RETURNING id, external_job_id, source, scheduled_at, delivery_type, destination,
		          payload, status, retry_count, max_retries, last_error, created_at,
		          updated_at, executed_at, locked_by, lock_expires_at, partition_key
	`

	rows, err := r.pool.Query(ctx, query, workerID, leaseUntil, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var e domain.Event
		if err := scanEvent(rows, &e); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	const query = eventSelectPrefix + `WHERE id = $1`
	var e domain.Event
	err := scanEvent(r.pool.QueryRow(ctx, query, id), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EventRepository) GetByExternalJobID(ctx context.Context, externalJobID string) (*domain.Event, error) {
	const query = eventSelectPrefix + `WHERE external_job_id = $1 ORDER BY created_at DESC LIMIT 1`
	var e domain.Event
	err := scanEvent(r.pool.QueryRow(ctx, query, externalJobID), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EventRepository) ListByExternalJobID(ctx context.Context, externalJobID string) ([]*domain.Event, error) {
	const query = eventSelectPrefix + `WHERE external_job_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, externalJobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var e domain.Event
		if err := scanEvent(rows, &e); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Complete, FailRetriable and FailTerminal all predicate their UPDATE on
// locked_by = workerID. This closes the lost-update window the source left
// open (see design notes): if the lease was reclaimed by another worker
// after this one's delivery task overran its lease, the predicate fails to
// match, the outcome write is a no-op, and domain.ErrNotFound surfaces to
// the caller to log as a lost lease rather than silently clobbering the
// reclaiming worker's in-flight attempt.

func (r *EventRepository) Complete(ctx context.Context, id, workerID string, now time.Time) error {
	const query = `
		UPDATE events
		SET status = 'completed', executed_at = $2, updated_at = $2, locked_by = NULL, lock_expires_at = NULL
		WHERE id = $1 AND locked_by = $3
	`
	return r.execOne(ctx, query, id, now, workerID)
}

func (r *EventRepository) FailRetriable(ctx context.Context, id, workerID string, now time.Time, errMsg string) error {
	const query = `
		UPDATE events
		SET status = 'pending', retry_count = retry_count + 1, last_error = $3,
		    updated_at = $2, locked_by = NULL, lock_expires_at = NULL
		WHERE id = $1 AND locked_by = $4
	`
	return r.execOne(ctx, query, id, now, truncate(errMsg), workerID)
}

func (r *EventRepository) FailTerminal(ctx context.Context, id, workerID string, now time.Time, errMsg string) error {
	const query = `
		UPDATE events
		SET status = 'dead_letter', retry_count = retry_count + 1, last_error = $3,
		    executed_at = $2, updated_at = $2, locked_by = NULL, lock_expires_at = NULL
		WHERE id = $1 AND locked_by = $4
	`
	return r.execOne(ctx, query, id, now, truncate(errMsg), workerID)
}

func (r *EventRepository) RescheduleUnclaim(ctx context.Context, id string, now time.Time) error {
	const query = `
		UPDATE events
		SET status = 'pending', locked_by = NULL, lock_expires_at = NULL, updated_at = $2
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, now)
}

func (r *EventRepository) CancelByID(ctx context.Context, id string, now time.Time) error {
	const query = `
		UPDATE events
		SET status = 'cancelled', executed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrInvalidState
	}
	return nil
}

func (r *EventRepository) CancelByExternalJobID(ctx context.Context, externalJobID string, now time.Time) (int64, error) {
	const query = `
		UPDATE events
		SET status = 'cancelled', executed_at = $2, updated_at = $2
		WHERE external_job_id = $1 AND status = 'pending'
	`
	tag, err := r.pool.Exec(ctx, query, externalJobID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *EventRepository) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE events
		SET status = 'pending', locked_by = NULL, lock_expires_at = NULL, updated_at = $1
		WHERE status = 'processing' AND lock_expires_at < $1
	`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *EventRepository) DeleteTerminalBatch(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	const query = `
		DELETE FROM events
		WHERE id IN (
			SELECT id FROM events
			WHERE status IN ('completed', 'dead_letter', 'cancelled') AND executed_at < $1
			LIMIT $2
		)
	`
	tag, err := r.pool.Exec(ctx, query, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *EventRepository) Statistics(ctx context.Context) (map[domain.EventStatus]int64, error) {
	const query = `SELECT status, count(*) FROM events GROUP BY status`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[domain.EventStatus]int64)
	for rows.Next() {
		var status domain.EventStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (r *EventRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const eventSelectPrefix = `
	SELECT id, external_job_id, source, scheduled_at, delivery_type, destination,
	       payload, status, retry_count, max_retries, last_error, created_at,
	       updated_at, executed_at, locked_by, lock_expires_at, partition_key
	FROM events
`

// queryer is the subset of pgxpool.Pool that insertOne needs, satisfied by
// both *pgxpool.Pool directly and the batcher's own connection use.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner, e *domain.Event) error {
	return row.Scan(
		&e.ID, &e.ExternalJobID, &e.Source, &e.ScheduledAt, &e.DeliveryType, &e.Destination,
		&e.Payload, &e.Status, &e.RetryCount, &e.MaxRetries, &e.LastError, &e.CreatedAt,
		&e.UpdatedAt, &e.ExecutedAt, &e.LockedBy, &e.LockExpiresAt, &e.PartitionKey,
	)
}

func truncate(msg string) string {
	const max = 4000
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}

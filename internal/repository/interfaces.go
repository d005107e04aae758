package repository

import (
	"context"
	"time"

	"github.com/relaydock/orbit/internal/domain"
)

// EventStore is the durable store of record for scheduled events (C1).
// Implementations must honor the invariants in domain: PROCESSING rows
// always carry a lease, terminal rows never carry one, and RetryCount
// never exceeds MaxRetries+1.
type EventStore interface {
	// Insert persists a new PENDING event. Returns domain.ErrDuplicate if
	// the (external_job_id, source, scheduled_at) key already exists; the
	// caller should treat that as a successful idempotent submission.
	Insert(ctx context.Context, event *domain.Event) error

	// Exists reports whether a row with the given dedup key is already
	// persisted. This is the Deduplicator's Tier-2 check.
	Exists(ctx context.Context, externalJobID, source string, scheduledAt time.Time) (bool, error)

	// ClaimDue atomically selects up to limit PENDING-and-due rows,
	// transitions them to PROCESSING under workerID with the given lease
	// deadline, and returns the claimed rows. Implementations must use
	// skip-locked row selection so concurrent callers claim disjoint sets.
	ClaimDue(ctx context.Context, workerID string, now, leaseUntil time.Time, limit int) ([]*domain.Event, error)

	// Complete, FailRetriable and FailTerminal predicate their write on the
	// caller still holding the lease (locked_by = workerID). A mismatch
	// means the lease was reclaimed by another worker and surfaces as
	// domain.ErrNotFound so the caller can log a lost-lease race instead of
	// overwriting the reclaiming worker's outcome.
	Complete(ctx context.Context, id, workerID string, now time.Time) error
	FailRetriable(ctx context.Context, id, workerID string, now time.Time, errMsg string) error
	FailTerminal(ctx context.Context, id, workerID string, now time.Time, errMsg string) error
	RescheduleUnclaim(ctx context.Context, id string, now time.Time) error

	GetByID(ctx context.Context, id string) (*domain.Event, error)
	GetByExternalJobID(ctx context.Context, externalJobID string) (*domain.Event, error)
	ListByExternalJobID(ctx context.Context, externalJobID string) ([]*domain.Event, error)

	CancelByID(ctx context.Context, id string, now time.Time) error
	CancelByExternalJobID(ctx context.Context, externalJobID string, now time.Time) (int64, error)

	// ReleaseExpired returns PROCESSING rows whose lease has expired back
	// to PENDING, and reports how many were released (C8 Recovery Loop).
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteTerminalBatch deletes up to batchSize terminal rows with
	// ExecutedAt before cutoff, returning the number deleted (C9 Retention
	// Loop and C10 manual cleanup).
	DeleteTerminalBatch(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)

	// Statistics returns a count of events grouped by status.
	Statistics(ctx context.Context) (map[domain.EventStatus]int64, error)
}

package domain

import (
	"encoding/json"
	"time"
)

// EventStatus is the lifecycle state of a scheduled event.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusDeadLetter EventStatus = "dead_letter"
	EventStatusCancelled  EventStatus = "cancelled"
)

// DeliveryType selects the channel an event is dispatched through.
type DeliveryType string

const (
	DeliveryTypeHTTP   DeliveryType = "HTTP"
	DeliveryTypeBroker DeliveryType = "BROKER"
)

// Event is the central entity: a job submitted for delivery at or after
// ScheduledAt, through DeliveryType, to Destination.
type Event struct {
	ID             string          `json:"id"`
	ExternalJobID  string          `json:"external_job_id"`
	Source         string          `json:"source"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	DeliveryType   DeliveryType    `json:"delivery_type"`
	Destination    string          `json:"destination"`
	Payload        json.RawMessage `json:"payload"`
	Status         EventStatus     `json:"status"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ExecutedAt     *time.Time      `json:"executed_at,omitempty"`
	LockedBy       *string         `json:"locked_by,omitempty"`
	LockExpiresAt  *time.Time      `json:"lock_expires_at,omitempty"`
	PartitionKey   int             `json:"partition_key"`
}

// PartitionKeyFor computes the store's physical partitioning discriminator:
// year*1000 + day-of-year, evaluated in UTC.
func PartitionKeyFor(scheduledAt time.Time) int {
	utc := scheduledAt.UTC()
	return utc.Year()*1000 + utc.YearDay()
}

// CanRetry reports whether another delivery attempt is permitted.
func (e *Event) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

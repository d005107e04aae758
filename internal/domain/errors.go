// Package domain contains the core business entities and logic.
package domain

import "errors"

// Sentinel errors for common domain error cases.
// These allow handlers to check error types without coupling to infrastructure.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicate indicates a unique-key collision on insert; the caller
	// should treat this as a successful idempotent submission, not a failure.
	ErrDuplicate = errors.New("duplicate event")

	// ErrInvalidState indicates an operation was attempted against an event
	// in a status that does not permit it (e.g. cancelling a PROCESSING row).
	ErrInvalidState = errors.New("invalid event state")

	// ErrInvalidInput indicates the input data is invalid or malformed.
	ErrInvalidInput = errors.New("invalid input")
)

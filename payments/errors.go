package payments

import "errors"

var (
	// ErrDuplicateIdempotencyKey is returned by a Store when a request with the
	// same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidRequest is returned when a request is missing required ids.
	ErrInvalidRequest = errors.New("invalid delayed payment request")

	// ErrInvalidAmount is returned for a malformed or non-positive amount.
	ErrInvalidAmount = errors.New("invalid payment amount")
)

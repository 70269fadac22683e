package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and outbound clients return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrAlreadyExists: create collided with an existing record
// - ErrConflict: concurrent writers raced on the same record
// - ErrInvalidState: record is in the wrong state for the requested operation
// - ErrExpired: pending install window or token lifetime has elapsed
// - ErrUnavailable: backing store or upstream temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrInvalidState  = errors.New("invalid state")
	ErrExpired       = errors.New("expired")
	ErrUnavailable   = errors.New("unavailable")
)

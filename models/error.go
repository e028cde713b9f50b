package models

import "errors"

// ErrorMessageResponse returns the error message response struct
type ErrorMessageResponse struct {
	Response MessageError
}

// MessageError contains the inner details for the error message response
type MessageError struct {
	Message string
	Error   string
}

// HealthCheckResponse is returned by the health endpoint
type HealthCheckResponse struct {
	Alive bool `json:"alive"`
}

// Error taxonomy surfaced by the report lifecycle. UnknownStatus carries
// the offending value and lives in status.go.
var (
	// ErrNotFound indicates the report or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates the caller lacks permission; no state changed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPartialUpdate indicates one of the two lifecycle writes failed
	// permanently and the compensating write was attempted. The log records
	// which write succeeded for manual reconciliation.
	ErrPartialUpdate = errors.New("partial update failure")
	// ErrStorageUnavailable indicates the persistence layer is unreachable.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

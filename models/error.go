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

var (
	// ErrInvalidArgument is returned when a required identifier is missing
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrPermissionDenied is returned when the user declined a permission prompt
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPermissionRevoked is returned when a granted permission was lost mid-flow
	ErrPermissionRevoked = errors.New("permission revoked")
	// ErrUnavailable wraps store and network failures
	ErrUnavailable = errors.New("unavailable")
	// ErrNoTokens is returned when a user has no deliverable provider tokens
	ErrNoTokens = errors.New("no active push tokens")
)

package devhost

import "errors"

var (
	// ErrInstanceNotFound is returned when the store has no row for an instance.
	ErrInstanceNotFound = errors.New("devhost: instance not found")

	// ErrActionNotFound is returned for an unknown action instance id.
	ErrActionNotFound = errors.New("devhost: action not found")

	// ErrFeedbackNotFound is returned for an unknown feedback instance id.
	ErrFeedbackNotFound = errors.New("devhost: feedback not found")

	// ErrNoHTTPHandler is returned when HTTP passthrough is requested but the
	// module did not report an HTTP handler at init.
	ErrNoHTTPHandler = errors.New("devhost: module has no http handler")

	// ErrInvalidItem is returned when a stored item fails validation.
	ErrInvalidItem = errors.New("devhost: invalid item")
)

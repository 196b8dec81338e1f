package leads

import "errors"

var (
	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")

	// ErrLeadExists is returned when another writer created the same phone first.
	ErrLeadExists = errors.New("lead already exists for phone")

	// ErrMissingPhone is returned when a lead has no phone number.
	ErrMissingPhone = errors.New("phone is required")
)

package models

import "errors"

// Error taxonomy shared by the coordinator, stores, and the HTTP layer.
// Wrap with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrNoDriversAvailable = errors.New("no nearby drivers available")
	ErrUpstream           = errors.New("upstream failure")
)

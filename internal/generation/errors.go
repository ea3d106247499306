package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrNoTemplates is returned when a job is requested but no
	// templates are configured to mint one from.
	ErrNoTemplates = errors.New("no job templates configured")

	// ErrInvalidTemplate is returned when a configured template cannot
	// produce a valid job.
	ErrInvalidTemplate = errors.New("invalid job template")
)

package journal

import "errors"

var (
	// ErrInvalidEntry is returned when a record is missing required fields.
	ErrInvalidEntry = errors.New("journal: invalid entry")
)

package salesetl

import "errors"

var (
	// ErrSourceNotFound is returned when the input file or object does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrMalformedInput is returned when the input cannot be read as a table.
	ErrMalformedInput = errors.New("malformed input")

	// ErrMissingColumn is returned when a required column is absent after renaming.
	ErrMissingColumn = errors.New("missing required column")

	// ErrDuplicateColumn is returned when two input columns normalize to the same name.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrTooManyDropped is returned when the share of dropped records exceeds Job.MaxDroppedRatio.
	ErrTooManyDropped = errors.New("too many dropped records")

	errNoSheet = errors.New("no sheet found")
)

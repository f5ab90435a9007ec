package repository

import "errors"

var (
	// ErrNotFound is returned when the archive holds no record of the
	// requested trip.
	ErrNotFound = errors.New("trip not archived")
)

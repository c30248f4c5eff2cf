package session

import "errors"

var (
	// ErrNonFinite is returned when an update would move a particle to a
	// non-finite coordinate.
	ErrNonFinite = errors.New("session: non-finite coordinate")

	// ErrLength is returned when a coordinate or displacement slice does not
	// match the particle count.
	ErrLength = errors.New("session: length mismatch")
)

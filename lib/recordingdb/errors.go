package recordingdb

import "errors"

var (
	// ErrNotFound is returned when a recording or definition does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when adding something that is already stored.
	ErrExists = errors.New("already exists")
)

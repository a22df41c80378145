package connector

import "errors"

// ErrNotAcquired is returned when releasing a location that has no connector.
var ErrNotAcquired = errors.New("connector not acquired")

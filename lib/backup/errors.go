package backup

import "errors"

// ErrShutdown is returned for work submitted after Shutdown.
var ErrShutdown = errors.New("backup worker shut down")

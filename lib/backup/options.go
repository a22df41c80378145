package backup

import (
	"time"
)

// DefaultRetryInterval is the delay before a failed operation is tried again.
const DefaultRetryInterval = 5 * time.Minute

type options struct {
	retryInterval time.Duration
	copyAttempts  uint
	copyDelay     time.Duration
	copyFile      func(src, dst string) error
}

func defaultOptions() options {
	return options{
		retryInterval: DefaultRetryInterval,
		copyAttempts:  3,
		copyDelay:     time.Second,
		copyFile:      copyFile,
	}
}

// Option configures a Worker or ACLWorker.
type Option func(*options)

// WithRetryInterval sets the delay between failed attempts of an operation.
// Retries are unbounded.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryInterval = d
		}
	}
}

// WithCopyAttempts sets how many times a single file copy is tried before the
// whole operation is deferred to a retry.
func WithCopyAttempts(n uint, delay time.Duration) Option {
	return func(o *options) {
		o.copyAttempts = max(n, 1)
		o.copyDelay = delay
	}
}

package backup

import (
	"sync"
	"time"
)

// retrier runs delayed retries until it is stopped.
type retrier struct {
	mu      sync.Mutex
	pending map[*time.Timer]struct{}
	stopped bool
}

func newRetrier() *retrier {
	return &retrier{pending: make(map[*time.Timer]struct{})}
}

// after runs fn once d has elapsed. It is a no-op after stop.
func (r *retrier) after(d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		_, ok := r.pending[t]
		delete(r.pending, t)
		r.mu.Unlock()
		if ok {
			fn()
		}
	})
	r.pending[t] = struct{}{}
}

// len is the number of retries waiting to run.
func (r *retrier) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *retrier) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for t := range r.pending {
		t.Stop()
		delete(r.pending, t)
	}
}

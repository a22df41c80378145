package scheduler

import (
	"sync"
	"time"
)

type timerKind string

const (
	startTimer timerKind = "start"
	stopTimer  timerKind = "stop"
)

type timerKey struct {
	id   string
	kind timerKind
}

// timers holds at most one pending timer per definition and kind.
type timers struct {
	mu      sync.Mutex
	pending map[timerKey]*time.Timer
}

func newTimers() *timers {
	return &timers{pending: make(map[timerKey]*time.Timer)}
}

// at arms fn to run at t, replacing any pending timer with the same key.
func (ts *timers) at(id string, kind timerKind, t time.Time, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	k := timerKey{id: id, kind: kind}
	if old, ok := ts.pending[k]; ok {
		old.Stop()
	}
	var tm *time.Timer
	tm = time.AfterFunc(time.Until(t), func() {
		ts.mu.Lock()
		if ts.pending[k] == tm {
			delete(ts.pending, k)
		}
		ts.mu.Unlock()
		fn()
	})
	ts.pending[k] = tm
}

func (ts *timers) cancel(id string, kind timerKind) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	k := timerKey{id: id, kind: kind}
	if tm, ok := ts.pending[k]; ok {
		tm.Stop()
		delete(ts.pending, k)
	}
}

func (ts *timers) cancelAll(id string) {
	ts.cancel(id, startTimer)
	ts.cancel(id, stopTimer)
}

func (ts *timers) has(id string, kind timerKind) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.pending[timerKey{id: id, kind: kind}]
	return ok
}

func (ts *timers) stopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for k, tm := range ts.pending {
		tm.Stop()
		delete(ts.pending, k)
	}
}

package backup

import (
	"context"
	"sync"
)

// Busy is a keyed set of in-flight operations. Start blocks while another
// operation holds the same key.
type Busy struct {
	mu   sync.Mutex
	cond *sync.Cond
	keys map[string]struct{}
}

func NewBusy() *Busy {
	b := &Busy{keys: make(map[string]struct{})}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start waits until key is free and marks it busy.
func (b *Busy) Start(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if _, ok := b.keys[key]; !ok {
			break
		}
		b.cond.Wait()
	}
	b.keys[key] = struct{}{}
}

// Finish releases key.
func (b *Busy) Finish(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.keys, key)
	b.cond.Broadcast()
}

// Len is the number of busy keys.
func (b *Busy) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keys)
}

// Wait blocks until no key is busy or ctx is done.
func (b *Busy) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.keys) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.cond.Wait()
	}
	return nil
}

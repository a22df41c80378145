// Package backup mirrors recordings and their access control lists to a
// backup directory.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/recording"
	"github.com/onkernel/rtp-recorder/lib/recordingdb"
)

// Worker copies newly added recordings to the backup root on a background
// goroutine and keeps the copies in step with later changes. Operations on
// the same recording never run concurrently.
type Worker struct {
	ctx  context.Context
	root string
	opts options

	busy    *Busy
	retries *retrier
	stopped chan struct{}

	mu    sync.Mutex
	cond  *sync.Cond
	queue []*recording.Recording
	done  bool
}

var _ recordingdb.RecordingListener = (*Worker)(nil)

// NewWorker creates root and starts the copy goroutine.
func NewWorker(ctx context.Context, root string, opts ...Option) (*Worker, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	w := &Worker{
		ctx:     context.WithoutCancel(ctx),
		root:    root,
		opts:    defaultOptions(),
		busy:    NewBusy(),
		retries: newRetrier(),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(&w.opts)
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w, nil
}

// Dir is the backup directory of rec.
func (w *Worker) Dir(rec *recording.Recording) string {
	return filepath.Join(w.root, rec.Folder, rec.ID)
}

func key(rec *recording.Recording) string {
	return rec.Folder + "/" + rec.ID
}

func (w *Worker) run() {
	defer close(w.stopped)
	for {
		rec, ok := w.next()
		if !ok {
			return
		}
		w.backup(rec)
	}
}

func (w *Worker) next() (*recording.Recording, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 && !w.done {
		w.cond.Wait()
	}
	if w.done {
		return nil, false
	}
	rec := w.queue[0]
	w.queue = w.queue[1:]
	return rec, true
}

// queued reports whether rec still waits for its first copy.
func (w *Worker) queued(rec *recording.Recording) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.ContainsFunc(w.queue, func(r *recording.Recording) bool { return key(r) == key(rec) })
}

// Pending is the number of recordings waiting for their first copy.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Worker) enqueue(rec *recording.Recording) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrShutdown
	}
	w.queue = append(w.queue, rec)
	w.cond.Broadcast()
	return nil
}

func (w *Worker) retry(fn func()) {
	w.retries.after(w.opts.retryInterval, fn)
}

func (w *Worker) backup(rec *recording.Recording) {
	log := logger.FromContext(w.ctx).With("recording", key(rec))
	k := key(rec)
	w.busy.Start(k)
	defer w.busy.Finish(k)

	dst := w.Dir(rec)
	if exists(dst) {
		return
	}
	if !exists(rec.Dir) {
		log.Warn("recording directory is gone, skipping backup", "dir", rec.Dir)
		return
	}

	log.Info("backing up recording", "from", rec.Dir, "to", dst)
	if err := w.copyRecording(rec, dst); err != nil {
		log.Warn("failed to back up recording, will retry", "err", err, "in", w.opts.retryInterval)
		if rmErr := os.RemoveAll(dst); rmErr != nil {
			log.Warn("failed to remove partial backup", "err", rmErr)
		}
		w.retry(func() {
			if err := w.enqueue(rec); err != nil {
				log.Debug("dropping backup retry", "err", err)
			}
		})
		return
	}
	log.Info("recording backed up")
}

func (w *Worker) copyRecording(rec *recording.Recording, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	sentinel := filepath.Join(dst, recording.InProgressFile)
	if err := os.WriteFile(sentinel, nil, 0o644); err != nil {
		return err
	}
	if err := w.opts.copyTree(w.ctx, rec.Dir, dst); err != nil {
		return err
	}
	return os.Remove(sentinel)
}

func (w *Worker) RecordingAdded(ctx context.Context, rec *recording.Recording) {
	if err := w.enqueue(rec); err != nil {
		logger.FromContext(ctx).Warn("recording not queued for backup", "recording", key(rec), "err", err)
	}
}

func (w *Worker) RecordingDeleted(ctx context.Context, rec *recording.Recording) {
	log := logger.FromContext(ctx).With("recording", key(rec))
	k := key(rec)
	w.busy.Start(k)
	defer w.busy.Finish(k)

	w.mu.Lock()
	before := len(w.queue)
	w.queue = slices.DeleteFunc(w.queue, func(r *recording.Recording) bool { return key(r) == k })
	wasQueued := len(w.queue) != before
	w.mu.Unlock()
	if wasQueued {
		log.Info("removed recording from backup queue")
		return
	}

	if err := os.RemoveAll(w.Dir(rec)); err != nil {
		log.Warn("failed to delete backup, will retry", "err", err)
		w.retry(func() { w.RecordingDeleted(w.ctx, rec) })
		return
	}
	log.Info("deleted backup")
}

func (w *Worker) RecordingLayoutsUpdated(ctx context.Context, rec *recording.Recording) {
	w.update(ctx, rec, "layouts", func(dir string) error {
		return recordingdb.WriteLayoutFiles(dir, rec.Layouts)
	}, w.RecordingLayoutsUpdated)
}

func (w *Worker) RecordingMetadataUpdated(ctx context.Context, rec *recording.Recording) {
	w.update(ctx, rec, "metadata", func(dir string) error {
		return recordingdb.WriteMetadataFile(dir, rec.Metadata)
	}, w.RecordingMetadataUpdated)
}

// update rewrites part of an existing backup. A recording still waiting
// for its first copy, or without a backup, is left alone since the copy
// will pick up the current state.
func (w *Worker) update(ctx context.Context, rec *recording.Recording, what string, write func(dir string) error, again func(context.Context, *recording.Recording)) {
	log := logger.FromContext(ctx).With("recording", key(rec))
	if w.queued(rec) {
		return
	}
	k := key(rec)
	w.busy.Start(k)
	defer w.busy.Finish(k)

	dir := w.Dir(rec)
	if !exists(dir) {
		log.Debug("no backup to update", "what", what)
		return
	}
	if err := write(dir); err != nil {
		log.Warn("failed to update backup, will retry", "what", what, "err", err)
		w.retry(func() { again(w.ctx, rec) })
		return
	}
	log.Info("updated backup", "what", what)
}

func (w *Worker) RecordingMoved(ctx context.Context, oldRec, newRec *recording.Recording) {
	log := logger.FromContext(ctx).With("recording", key(oldRec), "to", key(newRec))

	w.mu.Lock()
	for i, r := range w.queue {
		if key(r) == key(oldRec) {
			w.queue[i] = newRec
			w.mu.Unlock()
			return
		}
	}
	w.mu.Unlock()

	keys := []string{key(oldRec), key(newRec)}
	slices.Sort(keys)
	for _, k := range keys {
		w.busy.Start(k)
	}
	defer func() {
		for _, k := range keys {
			w.busy.Finish(k)
		}
	}()

	src, dst := w.Dir(oldRec), w.Dir(newRec)
	if !exists(src) {
		return
	}
	err := os.MkdirAll(filepath.Dir(dst), 0o755)
	if err == nil {
		err = os.Rename(src, dst)
	}
	if err != nil {
		log.Warn("failed to move backup, will retry", "err", err)
		w.retry(func() { w.RecordingMoved(w.ctx, oldRec, newRec) })
		return
	}
	log.Info("moved backup")
}

// RecordingLifetimeUpdated does nothing; lifetime is a deletion policy, not
// recording data.
func (w *Worker) RecordingLifetimeUpdated(context.Context, *recording.Recording) {}

// Shutdown stops the copy goroutine and pending retries, then waits for
// in-flight operations to finish.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.done = true
	w.cond.Broadcast()
	w.mu.Unlock()
	w.retries.stop()

	select {
	case <-w.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := w.busy.Wait(ctx); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("backup worker stopped")
	return nil
}

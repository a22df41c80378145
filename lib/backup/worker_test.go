package backup

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/rtp-recorder/lib/recording"
	"github.com/onkernel/rtp-recorder/lib/recordingdb"
)

func newRecording(t *testing.T, root, folder, id string) *recording.Recording {
	t.Helper()
	dir := filepath.Join(root, folder, id)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "extra"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "305419896"), []byte("archive"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "305419896.index"), []byte("index"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra", "notes"), []byte("notes"), 0o644))
	return &recording.Recording{
		ID:       id,
		Folder:   folder,
		Dir:      dir,
		Metadata: recording.NewMetadata("name", "Lecture"),
	}
}

func withCopier(f func(src, dst string) error) Option {
	return func(o *options) { o.copyFile = f }
}

func newWorker(t *testing.T, opts ...Option) *Worker {
	t.Helper()
	opts = append([]Option{WithRetryInterval(50 * time.Millisecond), WithCopyAttempts(1, 0)}, opts...)
	w, err := NewWorker(t.Context(), filepath.Join(t.TempDir(), "backup"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Shutdown(t.Context()) })
	return w
}

func backedUp(w *Worker, rec *recording.Recording) func() bool {
	return func() bool {
		_, err := os.Stat(filepath.Join(w.Dir(rec), "extra", "notes"))
		return err == nil && !exists(filepath.Join(w.Dir(rec), recording.InProgressFile))
	}
}

func TestWorker_BacksUpAddedRecording(t *testing.T) {
	t.Parallel()

	w := newWorker(t)
	rec := newRecording(t, t.TempDir(), "team", "2024-03-06_100000-0000abc")

	w.RecordingAdded(t.Context(), rec)
	require.Eventually(t, backedUp(w, rec), 2*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(filepath.Join(w.Dir(rec), "305419896"))
	require.NoError(t, err)
	assert.Equal(t, "archive", string(data))
	assert.NoFileExists(t, filepath.Join(w.Dir(rec), recording.InProgressFile))
}

func TestWorker_RetriesFailedCopy(t *testing.T) {
	t.Parallel()

	var calls, failures atomic.Int32
	copier := func(src, dst string) error {
		calls.Add(1)
		if failures.Add(1) == 1 {
			return errors.New("i/o error")
		}
		return copyFile(src, dst)
	}
	w := newWorker(t, withCopier(copier))
	rec := newRecording(t, t.TempDir(), "team", "r1")

	w.RecordingAdded(t.Context(), rec)
	require.Eventually(t, backedUp(w, rec), 2*time.Second, 10*time.Millisecond)

	// give a stray second retry the chance to show up
	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 4, calls.Load(), "one failed attempt and one copy of each of the three files")
	assert.NoFileExists(t, filepath.Join(w.Dir(rec), recording.InProgressFile))
	assert.Zero(t, w.retries.len())
}

// blockingCopier holds the copy of the first file until release is closed.
func blockingCopier() (copier func(src, dst string) error, started, release chan struct{}) {
	started, release = make(chan struct{}), make(chan struct{})
	var once sync.Once
	copier = func(src, dst string) error {
		once.Do(func() {
			close(started)
			<-release
		})
		return copyFile(src, dst)
	}
	return copier, started, release
}

func TestWorker_DeleteWhileQueued(t *testing.T) {
	t.Parallel()

	copier, started, release := blockingCopier()
	w := newWorker(t, withCopier(copier))
	root := t.TempDir()
	first := newRecording(t, root, "team", "first")
	second := newRecording(t, root, "team", "second")

	w.RecordingAdded(t.Context(), first)
	<-started
	w.RecordingAdded(t.Context(), second)
	assert.Equal(t, 1, w.Pending())

	// updates to a queued recording are left to the pending copy
	w.RecordingMetadataUpdated(t.Context(), second)
	assert.NoDirExists(t, w.Dir(second))

	w.RecordingDeleted(t.Context(), second)
	assert.Zero(t, w.Pending())

	close(release)
	require.Eventually(t, backedUp(w, first), 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.NoDirExists(t, w.Dir(second))

	w.RecordingDeleted(t.Context(), first)
	assert.NoDirExists(t, w.Dir(first))
}

func TestWorker_UpdatesExistingBackup(t *testing.T) {
	t.Parallel()

	w := newWorker(t)
	rec := newRecording(t, t.TempDir(), "team", "r1")
	w.RecordingAdded(t.Context(), rec)
	require.Eventually(t, backedUp(w, rec), 2*time.Second, 10*time.Millisecond)

	rec.Layouts = []recording.ReplayLayout{{Name: "speaker", Positions: []recording.LayoutPosition{{Name: "main", SSRC: "305419896"}}}}
	w.RecordingLayoutsUpdated(t.Context(), rec)
	assert.FileExists(t, filepath.Join(w.Dir(rec), "speaker"+recording.LayoutSuffix))

	rec.Layouts = []recording.ReplayLayout{{Name: "grid"}}
	w.RecordingLayoutsUpdated(t.Context(), rec)
	assert.NoFileExists(t, filepath.Join(w.Dir(rec), "speaker"+recording.LayoutSuffix))
	assert.FileExists(t, filepath.Join(w.Dir(rec), "grid"+recording.LayoutSuffix))

	rec.Metadata.Set("name", "Renamed lecture")
	w.RecordingMetadataUpdated(t.Context(), rec)
	md, err := recordingdb.ReadMetadataFile(w.Dir(rec))
	require.NoError(t, err)
	assert.Equal(t, "Renamed lecture", md.PrimaryValue())

	// lifetime changes are not mirrored
	rec.Lifetime = time.Hour
	w.RecordingLifetimeUpdated(t.Context(), rec)
	assert.NoFileExists(t, filepath.Join(w.Dir(rec), recording.LifetimeFile))
}

func TestWorker_Moved(t *testing.T) {
	t.Parallel()

	w := newWorker(t)
	rec := newRecording(t, t.TempDir(), "team", "r1")
	w.RecordingAdded(t.Context(), rec)
	require.Eventually(t, backedUp(w, rec), 2*time.Second, 10*time.Millisecond)

	moved := *rec
	moved.Folder = "archive/2024"
	w.RecordingMoved(t.Context(), rec, &moved)

	assert.NoDirExists(t, w.Dir(rec))
	assert.FileExists(t, filepath.Join(w.Dir(&moved), "extra", "notes"))
}

func TestWorker_Shutdown(t *testing.T) {
	t.Parallel()

	w, err := NewWorker(t.Context(), t.TempDir(), WithRetryInterval(time.Hour))
	require.NoError(t, err)
	require.NoError(t, w.Shutdown(t.Context()))

	rec := newRecording(t, t.TempDir(), "team", "late")
	w.RecordingAdded(t.Context(), rec)
	assert.Zero(t, w.Pending())
	assert.ErrorIs(t, w.enqueue(rec), ErrShutdown)
}

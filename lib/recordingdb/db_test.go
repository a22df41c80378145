package recordingdb

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/rtp-recorder/lib/recording"
)

type spyListener struct {
	mu     sync.Mutex
	events []string
}

func (s *spyListener) add(ev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *spyListener) RecordingAdded(_ context.Context, r *recording.Recording) {
	s.add("added:" + r.ID)
}
func (s *spyListener) RecordingDeleted(_ context.Context, r *recording.Recording) {
	s.add("deleted:" + r.ID)
}
func (s *spyListener) RecordingMoved(_ context.Context, o, n *recording.Recording) {
	s.add("moved:" + o.Folder + "->" + n.Folder)
}
func (s *spyListener) RecordingMetadataUpdated(_ context.Context, r *recording.Recording) {
	s.add("metadata:" + r.ID)
}
func (s *spyListener) RecordingLayoutsUpdated(_ context.Context, r *recording.Recording) {
	s.add("layouts:" + r.ID)
}
func (s *spyListener) RecordingLifetimeUpdated(_ context.Context, r *recording.Recording) {
	s.add("lifetime:" + r.ID)
}
func (s *spyListener) UnfinishedRecordingAdded(_ context.Context, d *recording.UnfinishedRecording) {
	s.add("u-added:" + d.ID)
}
func (s *spyListener) UnfinishedRecordingUpdated(_ context.Context, d *recording.UnfinishedRecording) {
	s.add("u-updated:" + d.ID)
}
func (s *spyListener) UnfinishedRecordingDeleted(_ context.Context, d *recording.UnfinishedRecording) {
	s.add("u-deleted:" + d.ID)
}

func openTestDB(t *testing.T) (*DB, string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "recordings.db")
	root := filepath.Join(dir, "recordings")
	db, err := Open(t.Context(), dbPath, root)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, dbPath, root
}

func testRecording(id string) *recording.Recording {
	return &recording.Recording{
		ID:        id,
		Folder:    "talks",
		StartTime: time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC),
		Duration:  time.Hour,
		Streams:   []*recording.Stream{{SSRC: "1", PacketsSeen: 10}},
		Metadata:  recording.NewMetadata("name", "Weekly sync"),
		Layouts:   []recording.ReplayLayout{{Name: "default", Positions: []recording.LayoutPosition{{Name: "main", SSRC: "1"}}}},
	}
}

func TestDB_RecordingLifecycle(t *testing.T) {
	t.Parallel()

	db, _, root := openTestDB(t)
	spy := &spyListener{}
	db.AddRecordingListener(spy)

	rec := testRecording("r1")
	require.NoError(t, db.AddRecording(t.Context(), rec))
	assert.Equal(t, filepath.Join(root, "talks", "r1"), rec.Dir)
	assert.FileExists(t, filepath.Join(rec.Dir, recording.MetadataFile))
	assert.FileExists(t, filepath.Join(rec.Dir, "default"+recording.LayoutSuffix))

	err := db.AddRecording(t.Context(), testRecording("r1"))
	require.ErrorIs(t, err, ErrExists)

	got, err := db.GetRecording(t.Context(), "talks", "r1")
	require.NoError(t, err)
	assert.Equal(t, "Weekly sync", got.Metadata.PrimaryValue())
	require.Len(t, got.Streams, 1)

	md := recording.NewMetadata("name", "Renamed")
	require.NoError(t, db.UpdateMetadata(t.Context(), "talks", "r1", md))
	onDisk, err := ReadMetadataFile(rec.Dir)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", onDisk.PrimaryValue())

	require.NoError(t, db.UpdateLayouts(t.Context(), "talks", "r1", []recording.ReplayLayout{
		{Name: "second", Time: time.Minute},
		{Name: "first"},
	}))
	assert.NoFileExists(t, filepath.Join(rec.Dir, "default"+recording.LayoutSuffix))
	layouts, err := ReadLayoutFiles(rec.Dir)
	require.NoError(t, err)
	require.Len(t, layouts, 2)
	assert.Equal(t, "first", layouts[0].Name)

	require.NoError(t, db.UpdateLifetime(t.Context(), "talks", "r1", 24*time.Hour))
	assert.FileExists(t, filepath.Join(rec.Dir, recording.LifetimeFile))

	moved, err := db.MoveRecording(t.Context(), "talks", "r1", "archive")
	require.NoError(t, err)
	assert.DirExists(t, moved.Dir)
	assert.NoDirExists(t, rec.Dir)

	list, err := db.ListRecordings(t.Context(), "archive")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 24*time.Hour, list[0].Lifetime)

	require.NoError(t, db.DeleteRecording(t.Context(), "archive", "r1"))
	assert.NoDirExists(t, moved.Dir)
	_, err = db.GetRecording(t.Context(), "archive", "r1")
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{
		"added:r1",
		"metadata:r1",
		"layouts:r1",
		"lifetime:r1",
		"moved:talks->archive",
		"deleted:r1",
	}, spy.events)
}

func TestDB_UnfinishedRecordings(t *testing.T) {
	t.Parallel()

	db, dbPath, root := openTestDB(t)
	spy := &spyListener{}
	db.AddUnfinishedRecordingListener(spy)

	def := recording.NewUnfinishedRecording("talks", recording.NewMetadata("name", "Standup"))
	def.Recurrence = recording.Recurrence{Frequency: recording.Daily, ItemFrequency: 1, StartHour: 9, DurationMinutes: 15}
	require.NoError(t, db.AddUnfinishedRecording(t.Context(), def))
	require.ErrorIs(t, db.AddUnfinishedRecording(t.Context(), def), ErrExists)

	def.MarkStarted()
	require.NoError(t, db.SaveState(t.Context(), def))
	require.NoError(t, db.UpdateUnfinishedRecording(t.Context(), def))

	other := recording.NewUnfinishedRecording("other", recording.NewMetadata("name", "Other"))
	require.NoError(t, db.AddUnfinishedRecording(t.Context(), other))
	assert.Len(t, db.ListUnfinishedRecordings(""), 2)
	assert.Len(t, db.ListUnfinishedRecordings("talks"), 1)

	folder, err := db.GetFolder(t.Context(), "talks")
	require.NoError(t, err)
	assert.Len(t, folder.Unfinished, 1)

	// a capture in progress does not survive a restart
	reopened, err := Open(t.Context(), dbPath, root)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.GetUnfinishedRecording(def.ID)
	require.NoError(t, err)
	assert.Equal(t, recording.StatusStopped, loaded.Status())
	assert.Equal(t, recording.Daily, loaded.Recurrence.Frequency)
	assert.Equal(t, "Standup", loaded.Metadata.PrimaryValue())

	require.NoError(t, db.FinishUnfinishedRecording(t.Context(), other))
	require.NoError(t, db.DeleteUnfinishedRecording(t.Context(), def))
	_, err = db.GetUnfinishedRecording(def.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, db.FinishUnfinishedRecording(t.Context(), def), ErrNotFound)

	assert.Equal(t, []string{
		"u-added:" + def.ID,
		"u-updated:" + def.ID,
		"u-added:" + other.ID,
		"u-deleted:" + def.ID,
	}, spy.events)
}

func TestWriteLifetimeFile_ZeroRemoves(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, WriteLifetimeFile(dir, time.Hour))
	assert.FileExists(t, filepath.Join(dir, recording.LifetimeFile))
	require.NoError(t, WriteLifetimeFile(dir, 0))
	_, err := os.Stat(filepath.Join(dir, recording.LifetimeFile))
	assert.True(t, os.IsNotExist(err))
}

func TestDB_AllRecordings(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	db, _, _ := openTestDB(t)
	later := testRecording("r2")
	later.StartTime = later.StartTime.Add(time.Hour)
	other := testRecording("r3")
	other.Folder = "archive"
	for _, rec := range []*recording.Recording{later, testRecording("r1"), other} {
		require.NoError(t, db.AddRecording(ctx, rec))
	}

	all, err := db.AllRecordings(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, rec := range all {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"r3", "r1", "r2"}, ids)
}

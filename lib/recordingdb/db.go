// Package recordingdb stores completed recordings and recording definitions
// in sqlite and notifies listeners of every change.
package recordingdb

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/samber/lo"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/recording"
)

type recordingRow struct {
	ID        string `gorm:"primaryKey"`
	Folder    string `gorm:"index"`
	StartTime time.Time
	Data      []byte
}

func (recordingRow) TableName() string { return "recordings" }

type unfinishedRow struct {
	ID       string `gorm:"primaryKey"`
	Folder   string `gorm:"index"`
	Status   string
	Started  bool
	Finished bool
	Data     []byte
}

func (unfinishedRow) TableName() string { return "unfinished_recordings" }

// DB is the recording database. Completed recordings live under root in
// <folder>/<id> directories.
type DB struct {
	db   *gorm.DB
	root string

	mu          sync.Mutex
	unfinished  map[string]*recording.UnfinishedRecording
	recListen   []RecordingListener
	unfinListen []UnfinishedRecordingListener
}

// Open opens or creates the sqlite database at path.
func Open(ctx context.Context, path, root string) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := gdb.WithContext(ctx).AutoMigrate(&recordingRow{}, &unfinishedRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings root: %w", err)
	}
	d := &DB{db: gdb, root: root, unfinished: make(map[string]*recording.UnfinishedRecording)}
	if err := d.loadUnfinished(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) loadUnfinished(ctx context.Context) error {
	var rows []unfinishedRow
	if err := d.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load recording definitions: %w", err)
	}
	for _, row := range rows {
		def, err := decodeUnfinished(row)
		if err != nil {
			logger.FromContext(ctx).Error("skipping unreadable recording definition", "id", row.ID, "err", err)
			continue
		}
		d.unfinished[def.ID] = def
	}
	return nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Root is the directory holding all recordings.
func (d *DB) Root() string {
	return d.root
}

// Dir is the directory of recording id in folder.
func (d *DB) Dir(folder, id string) string {
	return filepath.Join(d.root, folder, id)
}

func (d *DB) AddRecordingListener(l RecordingListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recListen = append(d.recListen, l)
}

func (d *DB) AddUnfinishedRecordingListener(l UnfinishedRecordingListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unfinListen = append(d.unfinListen, l)
}

func (d *DB) recordingListeners() []RecordingListener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.recListen)
}

func (d *DB) unfinishedListeners() []UnfinishedRecordingListener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.unfinListen)
}

func encodeRecording(rec *recording.Recording) (recordingRow, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return recordingRow{}, fmt.Errorf("failed to encode recording: %w", err)
	}
	return recordingRow{ID: rec.ID, Folder: rec.Folder, StartTime: rec.StartTime, Data: data}, nil
}

func decodeRecording(row recordingRow) (*recording.Recording, error) {
	var rec recording.Recording
	if err := json.Unmarshal(row.Data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode recording %s: %w", row.ID, err)
	}
	return &rec, nil
}

func encodeUnfinished(def *recording.UnfinishedRecording) (unfinishedRow, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return unfinishedRow{}, fmt.Errorf("failed to encode recording definition: %w", err)
	}
	st := def.State()
	return unfinishedRow{
		ID:       def.ID,
		Folder:   def.Folder,
		Status:   string(st.Status),
		Started:  st.Started,
		Finished: st.Finished,
		Data:     data,
	}, nil
}

func decodeUnfinished(row unfinishedRow) (*recording.UnfinishedRecording, error) {
	def := &recording.UnfinishedRecording{}
	if err := json.Unmarshal(row.Data, def); err != nil {
		return nil, fmt.Errorf("failed to decode recording definition %s: %w", row.ID, err)
	}
	// a capture cannot survive a restart
	status := recording.Status(row.Status)
	if status == recording.StatusRecording || status == recording.StatusPaused {
		status = recording.StatusStopped
	}
	def.Restore(recording.State{Status: status})
	return def, nil
}

// AddRecording stores a completed capture, writes its metadata and layout
// files and notifies recording listeners.
func (d *DB) AddRecording(ctx context.Context, rec *recording.Recording) error {
	var count int64
	if err := d.db.WithContext(ctx).Model(&recordingRow{}).Where("id = ?", rec.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check recording: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("recording %s: %w", rec.ID, ErrExists)
	}
	if rec.Dir == "" {
		rec.Dir = d.Dir(rec.Folder, rec.ID)
	}
	if err := os.MkdirAll(rec.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}
	if err := d.writeFiles(rec); err != nil {
		return err
	}
	row, err := encodeRecording(rec)
	if err != nil {
		return err
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("recording %s: %w", rec.ID, ErrExists)
		}
		return fmt.Errorf("failed to insert recording: %w", err)
	}
	logger.FromContext(ctx).Info("recording added", "id", rec.ID, "folder", rec.Folder, "streams", len(rec.Streams))
	for _, l := range d.recordingListeners() {
		l.RecordingAdded(ctx, rec)
	}
	return nil
}

func (d *DB) writeFiles(rec *recording.Recording) error {
	if rec.Metadata != nil {
		if err := WriteMetadataFile(rec.Dir, rec.Metadata); err != nil {
			return err
		}
	}
	if err := WriteLayoutFiles(rec.Dir, rec.Layouts); err != nil {
		return err
	}
	return WriteLifetimeFile(rec.Dir, rec.Lifetime)
}

// GetRecording loads a completed recording.
func (d *DB) GetRecording(ctx context.Context, folder, id string) (*recording.Recording, error) {
	var row recordingRow
	err := d.db.WithContext(ctx).First(&row, "id = ? AND folder = ?", id, folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("recording %s/%s: %w", folder, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recording: %w", err)
	}
	return decodeRecording(row)
}

// ListRecordings returns the recordings in folder ordered by start time.
func (d *DB) ListRecordings(ctx context.Context, folder string) ([]*recording.Recording, error) {
	var rows []recordingRow
	if err := d.db.WithContext(ctx).Where("folder = ?", folder).Order("start_time").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	out := make([]*recording.Recording, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRecording(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// AllRecordings returns every stored recording ordered by folder and start
// time.
func (d *DB) AllRecordings(ctx context.Context) ([]*recording.Recording, error) {
	var rows []recordingRow
	if err := d.db.WithContext(ctx).Order("folder").Order("start_time").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	out := make([]*recording.Recording, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRecording(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (d *DB) save(ctx context.Context, rec *recording.Recording) error {
	row, err := encodeRecording(rec)
	if err != nil {
		return err
	}
	if err := d.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to update recording: %w", err)
	}
	return nil
}

// DeleteRecording removes a recording and its directory.
func (d *DB) DeleteRecording(ctx context.Context, folder, id string) error {
	rec, err := d.GetRecording(ctx, folder, id)
	if err != nil {
		return err
	}
	if err := d.db.WithContext(ctx).Delete(&recordingRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	if err := os.RemoveAll(rec.Dir); err != nil {
		return fmt.Errorf("failed to remove recording directory: %w", err)
	}
	logger.FromContext(ctx).Info("recording deleted", "id", id, "folder", folder)
	for _, l := range d.recordingListeners() {
		l.RecordingDeleted(ctx, rec)
	}
	return nil
}

// MoveRecording moves a recording to another folder.
func (d *DB) MoveRecording(ctx context.Context, folder, id, newFolder string) (*recording.Recording, error) {
	oldRec, err := d.GetRecording(ctx, folder, id)
	if err != nil {
		return nil, err
	}
	newRec := *oldRec
	newRec.Folder = newFolder
	newRec.Dir = d.Dir(newFolder, id)
	if err := os.MkdirAll(filepath.Dir(newRec.Dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}
	if err := os.Rename(oldRec.Dir, newRec.Dir); err != nil {
		return nil, fmt.Errorf("failed to move recording: %w", err)
	}
	if err := d.save(ctx, &newRec); err != nil {
		return nil, err
	}
	for _, l := range d.recordingListeners() {
		l.RecordingMoved(ctx, oldRec, &newRec)
	}
	return &newRec, nil
}

// UpdateMetadata replaces the metadata of a recording.
func (d *DB) UpdateMetadata(ctx context.Context, folder, id string, md *recording.Metadata) error {
	rec, err := d.GetRecording(ctx, folder, id)
	if err != nil {
		return err
	}
	rec.Metadata = md
	if err := WriteMetadataFile(rec.Dir, md); err != nil {
		return err
	}
	if err := d.save(ctx, rec); err != nil {
		return err
	}
	for _, l := range d.recordingListeners() {
		l.RecordingMetadataUpdated(ctx, rec)
	}
	return nil
}

// UpdateLayouts replaces the replay layouts of a recording.
func (d *DB) UpdateLayouts(ctx context.Context, folder, id string, layouts []recording.ReplayLayout) error {
	rec, err := d.GetRecording(ctx, folder, id)
	if err != nil {
		return err
	}
	rec.Layouts = slices.Clone(layouts)
	sortLayouts(rec.Layouts)
	if err := WriteLayoutFiles(rec.Dir, rec.Layouts); err != nil {
		return err
	}
	if err := d.save(ctx, rec); err != nil {
		return err
	}
	for _, l := range d.recordingListeners() {
		l.RecordingLayoutsUpdated(ctx, rec)
	}
	return nil
}

// UpdateLifetime changes how long a recording is kept. Zero keeps it forever.
func (d *DB) UpdateLifetime(ctx context.Context, folder, id string, lifetime time.Duration) error {
	rec, err := d.GetRecording(ctx, folder, id)
	if err != nil {
		return err
	}
	rec.Lifetime = lifetime
	if err := WriteLifetimeFile(rec.Dir, lifetime); err != nil {
		return err
	}
	if err := d.save(ctx, rec); err != nil {
		return err
	}
	for _, l := range d.recordingListeners() {
		l.RecordingLifetimeUpdated(ctx, rec)
	}
	return nil
}

// AddUnfinishedRecording stores a new definition and notifies listeners.
func (d *DB) AddUnfinishedRecording(ctx context.Context, def *recording.UnfinishedRecording) error {
	d.mu.Lock()
	if _, ok := d.unfinished[def.ID]; ok {
		d.mu.Unlock()
		return fmt.Errorf("recording definition %s: %w", def.ID, ErrExists)
	}
	d.unfinished[def.ID] = def
	d.mu.Unlock()

	if err := d.SaveState(ctx, def); err != nil {
		d.mu.Lock()
		delete(d.unfinished, def.ID)
		d.mu.Unlock()
		return err
	}
	for _, l := range d.unfinishedListeners() {
		l.UnfinishedRecordingAdded(ctx, def)
	}
	return nil
}

// UpdateUnfinishedRecording persists a changed definition and notifies listeners.
func (d *DB) UpdateUnfinishedRecording(ctx context.Context, def *recording.UnfinishedRecording) error {
	if _, err := d.GetUnfinishedRecording(def.ID); err != nil {
		return err
	}
	if err := d.SaveState(ctx, def); err != nil {
		return err
	}
	for _, l := range d.unfinishedListeners() {
		l.UnfinishedRecordingUpdated(ctx, def)
	}
	return nil
}

// DeleteUnfinishedRecording removes a definition and notifies listeners.
func (d *DB) DeleteUnfinishedRecording(ctx context.Context, def *recording.UnfinishedRecording) error {
	if err := d.FinishUnfinishedRecording(ctx, def); err != nil {
		return err
	}
	for _, l := range d.unfinishedListeners() {
		l.UnfinishedRecordingDeleted(ctx, def)
	}
	return nil
}

// FinishUnfinishedRecording removes a definition whose single occurrence has
// completed. Listeners are not notified.
func (d *DB) FinishUnfinishedRecording(ctx context.Context, def *recording.UnfinishedRecording) error {
	d.mu.Lock()
	_, ok := d.unfinished[def.ID]
	delete(d.unfinished, def.ID)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("recording definition %s: %w", def.ID, ErrNotFound)
	}
	if err := d.db.WithContext(ctx).Delete(&unfinishedRow{}, "id = ?", def.ID).Error; err != nil {
		return fmt.Errorf("failed to delete recording definition: %w", err)
	}
	return nil
}

// SaveState persists a definition, including its status, without notifying
// listeners.
func (d *DB) SaveState(ctx context.Context, def *recording.UnfinishedRecording) error {
	d.mu.Lock()
	_, ok := d.unfinished[def.ID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("recording definition %s: %w", def.ID, ErrNotFound)
	}
	row, err := encodeUnfinished(def)
	if err != nil {
		return err
	}
	if err := d.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save recording definition: %w", err)
	}
	return nil
}

// GetUnfinishedRecording returns the live definition with id.
func (d *DB) GetUnfinishedRecording(id string) (*recording.UnfinishedRecording, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	def, ok := d.unfinished[id]
	if !ok {
		return nil, fmt.Errorf("recording definition %s: %w", id, ErrNotFound)
	}
	return def, nil
}

// ListUnfinishedRecordings returns the definitions in folder, or all of them
// when folder is empty, ordered by id.
func (d *DB) ListUnfinishedRecordings(folder string) []*recording.UnfinishedRecording {
	d.mu.Lock()
	defs := lo.Values(d.unfinished)
	d.mu.Unlock()

	if folder != "" {
		defs = lo.Filter(defs, func(def *recording.UnfinishedRecording, _ int) bool { return def.Folder == folder })
	}
	slices.SortFunc(defs, func(a, b *recording.UnfinishedRecording) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return defs
}

// GetFolder assembles a folder with its recordings, definitions and the
// names of its sub-folders.
func (d *DB) GetFolder(ctx context.Context, folder string) (*recording.Folder, error) {
	recs, err := d.ListRecordings(ctx, folder)
	if err != nil {
		return nil, err
	}
	f := &recording.Folder{
		Name:       filepath.Base(folder),
		Path:       folder,
		Recordings: recs,
		Unfinished: d.ListUnfinishedRecordings(folder),
	}
	ids := lo.SliceToMap(recs, func(r *recording.Recording) (string, struct{}) { return r.ID, struct{}{} })
	entries, err := os.ReadDir(filepath.Join(d.root, folder))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read folder: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, isRecording := ids[e.Name()]; isRecording {
			continue
		}
		sub := filepath.Join(folder, e.Name())
		f.Folders = append(f.Folders, &recording.Folder{Name: e.Name(), Path: sub})
	}
	return f, nil
}

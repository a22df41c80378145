// Package recording holds the data model shared by capture, scheduling,
// backup and playback.
package recording

import (
	"fmt"
	"slices"
	"time"
)

// Files written inside a recording directory.
const (
	InProgressFile = ".rec_inprogress"
	MetadataFile   = ".rec_metadata"
	LifetimeFile   = ".rec_lifetime"
	LayoutSuffix   = ".layout"
	IndexSuffix    = ".index"
)

// Pause is an interval during which capture was disabled.
type Pause struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LayoutPosition places one stream in a named region of a layout.
type LayoutPosition struct {
	Name string `json:"name"`
	SSRC string `json:"ssrc"`
}

// ReplayLayout is a named arrangement of streams, effective from Time
// (offset from the recording start).
type ReplayLayout struct {
	Name      string           `json:"name"`
	Time      time.Duration    `json:"time"`
	EndTime   time.Duration    `json:"endTime,omitempty"`
	Positions []LayoutPosition `json:"positions"`
	AudioSSRC []string         `json:"audioSsrc,omitempty"`
}

// Annotation is a timed note attached to a recording.
type Annotation struct {
	ID     string        `json:"id"`
	Author string        `json:"author"`
	Time   time.Duration `json:"time"`
	Text   string        `json:"text"`
	Tags   []string      `json:"tags,omitempty"`
}

// Recording is a completed capture.
type Recording struct {
	ID           string         `json:"id"`
	Folder       string         `json:"folder"`
	Dir          string         `json:"dir"`
	StartTime    time.Time      `json:"startTime"`
	Duration     time.Duration  `json:"duration"`
	Streams      []*Stream      `json:"streams"`
	Metadata     *Metadata      `json:"metadata,omitempty"`
	Layouts      []ReplayLayout `json:"layouts,omitempty"`
	Annotations  []Annotation   `json:"annotations,omitempty"`
	PauseTimes   []Pause        `json:"pauseTimes,omitempty"`
	Lifetime     time.Duration  `json:"lifetime,omitempty"`
	EmailAddress string         `json:"emailAddress,omitempty"`
}

// Stream returns the stream with the given SSRC.
func (r *Recording) Stream(ssrc string) (*Stream, bool) {
	i := slices.IndexFunc(r.Streams, func(s *Stream) bool { return s.SSRC == ssrc })
	if i < 0 {
		return nil, false
	}
	return r.Streams[i], true
}

// DeletionTime is when a recording with a lifetime expires. ok is false when
// the recording is kept forever.
func (r *Recording) DeletionTime() (t time.Time, ok bool) {
	if r.Lifetime <= 0 {
		return time.Time{}, false
	}
	return r.StartTime.Add(r.Duration + r.Lifetime), true
}

// NewRecordingID builds the directory name of a recording from its start time
// and the definition it was captured for.
func NewRecordingID(start time.Time, definitionID string) string {
	return fmt.Sprintf("%s-%04d%s", start.Format("2006-01-02_150405"), start.Nanosecond()/int(time.Millisecond), definitionID)
}

// Folder is a node in the recording hierarchy.
type Folder struct {
	Name       string                 `json:"name"`
	Path       string                 `json:"path"`
	Recordings []*Recording           `json:"recordings,omitempty"`
	Unfinished []*UnfinishedRecording `json:"unfinished,omitempty"`
	Folders    []*Folder              `json:"folders,omitempty"`
}

package recording

import (
	"strings"
	"sync"
	"time"

	"github.com/nrednav/cuid2"

	"github.com/onkernel/rtp-recorder/lib/netloc"
)

// Status is the human readable state of a recording definition.
type Status string

const (
	StatusStopped           Status = "Stopped"
	StatusRecording         Status = "Recording"
	StatusPaused            Status = "Paused"
	StatusCompleted         Status = "Completed"
	StatusNoStreamsRecorded Status = "Stopped: no streams recorded"

	errorPrefix = "Error: "
)

// ErrorStatus returns the status reported for a failure.
func ErrorStatus(msg string) Status {
	return Status(errorPrefix + msg)
}

// IsError reports whether s describes a failure.
func (s Status) IsError() bool {
	return strings.HasPrefix(string(s), errorPrefix)
}

// Frequency of a recurring definition.
type Frequency string

const (
	None     Frequency = ""
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Monthly  Frequency = "monthly"
	Annually Frequency = "annually"
)

// Recurrence describes when a repeating capture happens.
type Recurrence struct {
	Frequency       Frequency    `json:"frequency,omitempty"`
	ItemFrequency   int          `json:"itemFrequency,omitempty"`
	StartHour       int          `json:"startHour"`
	StartMinute     int          `json:"startMinute"`
	DurationMinutes int          `json:"durationMinutes"`
	IgnoreWeekends  bool         `json:"ignoreWeekends,omitempty"`
	DayOfWeek       time.Weekday `json:"dayOfWeek"`
	DayOfMonth      int          `json:"dayOfMonth,omitempty"`

	// WeekNumber selects the n-th DayOfWeek of the month; 0 means the last one.
	WeekNumber int        `json:"weekNumber,omitempty"`
	Month      time.Month `json:"month,omitempty"`
}

// Duration of each occurrence.
func (r Recurrence) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// UnfinishedRecording is a definition of a capture that has not completed:
// either scheduled, recurring, or started manually.
type UnfinishedRecording struct {
	ID           string                   `json:"id"`
	Folder       string                   `json:"folder"`
	Metadata     *Metadata                `json:"metadata,omitempty"`
	StartDate    *time.Time               `json:"startDate,omitempty"`
	StopDate     *time.Time               `json:"stopDate,omitempty"`
	Recurrence   Recurrence               `json:"recurrence"`
	VenueURL     string                   `json:"venueUrl,omitempty"`
	Addresses    []netloc.NetworkLocation `json:"addresses,omitempty"`
	EmailAddress string                   `json:"emailAddress,omitempty"`
	Lifetime     time.Duration            `json:"lifetime,omitempty"`

	mu       sync.Mutex
	status   Status
	started  bool
	finished bool
}

// NewUnfinishedRecording returns a stopped definition with a fresh id.
func NewUnfinishedRecording(folder string, metadata *Metadata) *UnfinishedRecording {
	return &UnfinishedRecording{
		ID:       cuid2.Generate(),
		Folder:   folder,
		Metadata: metadata,
		status:   StatusStopped,
	}
}

// IsRecurring reports whether the definition repeats.
func (u *UnfinishedRecording) IsRecurring() bool {
	return u.Recurrence.Frequency != None
}

func (u *UnfinishedRecording) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.status == "" {
		return StatusStopped
	}
	return u.status
}

func (u *UnfinishedRecording) SetStatus(s Status) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = s
}

// Started reports whether capture has begun for the current occurrence.
func (u *UnfinishedRecording) Started() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.started
}

// Finished reports whether the current occurrence has been stopped.
func (u *UnfinishedRecording) Finished() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finished
}

// MarkStarted records that capture began.
func (u *UnfinishedRecording) MarkStarted() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.started = true
	u.status = StatusRecording
}

// MarkFinished records that capture ended.
func (u *UnfinishedRecording) MarkFinished() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.finished = true
}

// Reset prepares the definition for another occurrence.
func (u *UnfinishedRecording) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.started = false
	u.finished = false
	u.status = StatusStopped
}

// State is a point-in-time copy of the mutable fields.
type State struct {
	Status   Status `json:"status"`
	Started  bool   `json:"started"`
	Finished bool   `json:"finished"`
}

func (u *UnfinishedRecording) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.status
	if s == "" {
		s = StatusStopped
	}
	return State{Status: s, Started: u.started, Finished: u.finished}
}

// Restore applies a previously saved State.
func (u *UnfinishedRecording) Restore(s State) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = s.Status
	u.started = s.Started
	u.finished = s.Finished
}

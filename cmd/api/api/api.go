// Package api serves the read-only ops endpoints of the recorder daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/playback"
	"github.com/onkernel/rtp-recorder/lib/recording"
	"github.com/onkernel/rtp-recorder/lib/recordingdb"
	"github.com/onkernel/rtp-recorder/lib/scheduler"
	"github.com/onkernel/rtp-recorder/lib/zstdutil"
)

// Recordings is the part of the recording database the service reads.
type Recordings interface {
	GetRecording(ctx context.Context, folder, id string) (*recording.Recording, error)
	ListUnfinishedRecordings(folder string) []*recording.UnfinishedRecording
}

// Schedules reports the scheduling state of definitions.
type Schedules interface {
	Describe(def *recording.UnfinishedRecording) scheduler.Info
	Active() []string
}

// Playbacks lists and stops playback sessions.
type Playbacks interface {
	Sessions() []playback.Status
	StopAll(ctx context.Context) error
}

// Backlog reports how many recordings wait for backup.
type Backlog interface {
	Pending() int
}

type ApiService struct {
	recordings Recordings
	schedules  Schedules
	playbacks  Playbacks
	backlog    Backlog
	level      zstdutil.CompressionLevel
}

// New creates the service. backlog may be nil when backup is disabled.
func New(recordings Recordings, schedules Schedules, playbacks Playbacks, backlog Backlog, level zstdutil.CompressionLevel) *ApiService {
	return &ApiService{
		recordings: recordings,
		schedules:  schedules,
		playbacks:  playbacks,
		backlog:    backlog,
		level:      level,
	}
}

// Routes registers the endpoints on r.
func (s *ApiService) Routes(r chi.Router) {
	r.Get("/healthz", s.Health)
	r.Get("/unfinished", s.ListUnfinished)
	r.Get("/playback", s.ListPlayback)
	r.Get("/recordings/{folder}/{id}/export", s.ExportRecording)
}

// Shutdown stops every playback session.
func (s *ApiService) Shutdown(ctx context.Context) error {
	return s.playbacks.StopAll(ctx)
}

type healthResponse struct {
	Status           string `json:"status"`
	ActiveRecordings int    `json:"activeRecordings"`
	Playbacks        int    `json:"playbacks"`
	BackupPending    *int   `json:"backupPending,omitempty"`
}

// (GET /healthz)
func (s *ApiService) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:           "ok",
		ActiveRecordings: len(s.schedules.Active()),
		Playbacks:        len(s.playbacks.Sessions()),
	}
	if s.backlog != nil {
		n := s.backlog.Pending()
		resp.BackupPending = &n
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type unfinishedResponse struct {
	ID       string         `json:"id"`
	Folder   string         `json:"folder"`
	Name     string         `json:"name,omitempty"`
	Schedule scheduler.Info `json:"schedule"`
}

// (GET /unfinished)
func (s *ApiService) ListUnfinished(w http.ResponseWriter, r *http.Request) {
	defs := s.recordings.ListUnfinishedRecordings(r.URL.Query().Get("folder"))
	out := make([]unfinishedResponse, 0, len(defs))
	for _, def := range defs {
		item := unfinishedResponse{ID: def.ID, Folder: def.Folder, Schedule: s.schedules.Describe(def)}
		if def.Metadata != nil {
			item.Name = def.Metadata.PrimaryValue()
		}
		out = append(out, item)
	}
	writeJSON(w, r, http.StatusOK, out)
}

// (GET /playback)
func (s *ApiService) ListPlayback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.playbacks.Sessions())
}

// ExportRecording streams a tar.zst of the recording. Nested folders are
// passed path-escaped in a single segment.
// (GET /recordings/{folder}/{id}/export)
func (s *ApiService) ExportRecording(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	folder, err := url.PathUnescape(chi.URLParam(r, "folder"))
	if err != nil {
		http.Error(w, "invalid folder", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")

	rec, err := s.recordings.GetRecording(r.Context(), folder, id)
	if errors.Is(err, recordingdb.ErrNotFound) {
		http.Error(w, "recording not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("failed to load recording", "folder", folder, "id", id, "err", err)
		http.Error(w, "failed to load recording", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(rec)))
	if err := zstdutil.ExportRecording(w, rec, s.level); err != nil {
		if errors.Is(err, zstdutil.ErrIncomplete) {
			w.Header().Del("Content-Disposition")
			http.Error(w, "recording is incomplete", http.StatusConflict)
			return
		}
		// headers are already out
		log.Error("failed to export recording", "folder", folder, "id", id, "err", err)
	}
}

func exportName(rec *recording.Recording) string {
	name := rec.ID
	if rec.Folder != "" {
		name = strings.ReplaceAll(rec.Folder, "/", "_") + "_" + name
	}
	return name + ".tar.zst"
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context()).Error("failed to write response", "err", err)
	}
}

package scheduler

import "errors"

var (
	// ErrNotRecording is returned by Pause and Resume when no capture is running.
	ErrNotRecording = errors.New("recording not in progress")
	// ErrNoDestinations is returned when a definition has neither a venue nor addresses.
	ErrNoDestinations = errors.New("no addresses to record")
	// ErrNoVenues is returned when a definition names a venue but no resolver is configured.
	ErrNoVenues = errors.New("venue lookup not configured")
	// ErrShutdown is returned by Start once Shutdown has begun.
	ErrShutdown = errors.New("scheduler shut down")
)

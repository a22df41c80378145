package playback

import "errors"

var (
	// ErrSessionNotFound is returned for an unknown playback handle.
	ErrSessionNotFound = errors.New("playback session not found")
	// ErrNoTargets is returned when no stream of a recording can be sent anywhere.
	ErrNoTargets = errors.New("no playback targets for recording")
	// ErrNoVenues is returned when playback to a venue is requested without a resolver.
	ErrNoVenues = errors.New("venue lookup not configured")
)

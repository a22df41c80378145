package streamstore

import "errors"

var (
	// ErrTerminated is returned when packets are offered to a finalized archive.
	ErrTerminated = errors.New("archive terminated")
	// ErrCorrupt is returned when an archive or index file cannot be decoded.
	ErrCorrupt = errors.New("corrupt archive")
	// ErrRejectedPayloadType marks RTP packets whose payload type collides with RTCP.
	ErrRejectedPayloadType = errors.New("payload type conflicts with rtcp")
)

package recordingdb

import (
	"context"

	"github.com/onkernel/rtp-recorder/lib/recording"
)

// RecordingListener is notified after a completed recording changes.
type RecordingListener interface {
	RecordingAdded(ctx context.Context, rec *recording.Recording)
	RecordingDeleted(ctx context.Context, rec *recording.Recording)
	RecordingMoved(ctx context.Context, oldRec, newRec *recording.Recording)
	RecordingMetadataUpdated(ctx context.Context, rec *recording.Recording)
	RecordingLayoutsUpdated(ctx context.Context, rec *recording.Recording)
	RecordingLifetimeUpdated(ctx context.Context, rec *recording.Recording)
}

// UnfinishedRecordingListener is notified after a recording definition changes.
type UnfinishedRecordingListener interface {
	UnfinishedRecordingAdded(ctx context.Context, def *recording.UnfinishedRecording)
	UnfinishedRecordingUpdated(ctx context.Context, def *recording.UnfinishedRecording)
	UnfinishedRecordingDeleted(ctx context.Context, def *recording.UnfinishedRecording)
}

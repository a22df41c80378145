package emailer

// Message templates. Placeholders are filled by Render.
const (
	RecordingCompletedSubject = "Recording completed"
	RecordingCompletedBody    = `The recording "${recording}" has completed and is now available.
`

	ReminderSubject      = "Recording Reminder"
	FinalReminderSubject = "Final Recording Reminder"
	ReminderBody         = `The recording "${recording}" will be deleted in ${timeRemaining}, on ${deleteDate}.

If you want to keep it, extend its lifetime before then.
`
)

package workspace

import "medihelp/internal/models"

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a short user-facing message.
type Notification struct {
	Level   Level
	Message string
}

// Notifier surfaces notifications to the user.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

const (
	msgUnsupportedDocument = "Filetype not supported!"
	msgUnsupportedAudio    = "Audio filetype not supported! Please use MP3, WAV, or OGG format."
	msgMissingDocument     = "Upload a valid report!"
	msgMissingAudio        = "Upload a valid speech file!"
	msgExtractionFailed    = "Could not extract the report. Please try again."
	msgChatFailed          = "The assistant could not answer. Please try again."

	StatusReportAdded = "✓ Report Added"
	StatusNoReport    = "No Report or Speech Added"
)

func unsupportedMessage(picker models.Picker) string {
	if picker == models.PickerAudio {
		return msgUnsupportedAudio
	}
	return msgUnsupportedDocument
}

func missingMessage(picker models.Picker) string {
	if picker == models.PickerAudio {
		return msgMissingAudio
	}
	return msgMissingDocument
}

package agent

import (
	"context"
	"errors"

	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

// Noticer is implemented by errors that carry their own user-facing text.
type Noticer interface {
	Notice() string
}

// Notice converts an error into the status message shown to the user.
func Notice(err error) string {
	var n Noticer
	var rse *speech.RemoteServiceError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &n):
		return n.Notice()
	case errors.Is(err, ErrBusy):
		return "Hold on, I'm still busy with the last turn."
	case errors.Is(err, capture.ErrPermissionDenied):
		return "Microphone access was denied. Allow microphone access and try again."
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "No microphone found. Connect a microphone and try again."
	case errors.Is(err, speech.ErrEmptyTranscription):
		return "I didn't catch that. Hold the button and try speaking again."
	case errors.Is(err, speech.ErrSynthesisUnavailable):
		return "Voice playback is unavailable right now."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	case errors.As(err, &rse):
		return rse.Error()
	}
	return err.Error()
}

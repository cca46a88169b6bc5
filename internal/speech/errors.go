package speech

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTranscription is returned when speech-to-text yields no text.
	ErrEmptyTranscription = errors.New("no speech detected")
	// ErrSynthesisUnavailable signals that remote synthesis failed and the
	// caller should fall back to the on-device voice.
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")
	// ErrEmptyReply is returned when the reply endpoint answers with no text.
	ErrEmptyReply = errors.New("empty reply")
)

// Pipeline steps, used in errors and metrics.
const (
	StepTranscribe = "stt"
	StepChat       = "chat"
	StepSynthesize = "tts"
	StepGrammar    = "grammar-check"
	StepAvatar     = "liveavatar-token"
)

// RemoteServiceError is a non-OK response from a pipeline endpoint.
type RemoteServiceError struct {
	Step       string
	StatusCode int
	Body       string
	Cause      error
}

func (e *RemoteServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s request failed: %v", e.Step, e.Cause)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s request failed: status=%d body=%s", e.Step, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s request failed: status=%d", e.Step, e.StatusCode)
}

func (e *RemoteServiceError) Unwrap() error { return e.Cause }

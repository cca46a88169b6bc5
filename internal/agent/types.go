package agent

import (
	"context"

	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
	"github.com/ken2274132-hash/Fluently-sub000/internal/level"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

// Pipeline is the remote half of a turn: speech-to-text and reply generation.
type Pipeline interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
	GenerateReply(ctx context.Context, message string, history []speech.Message) (string, error)
}

// Synthesizer turns reply text into playable audio.
// It returns speech.ErrSynthesisUnavailable when the local voice should be used instead.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Recorder captures one clip per press-and-hold.
type Recorder interface {
	Start() (*level.Tap, error)
	Stop() (capture.Clip, bool)
}

// Utterance is speech that is currently being played to the user.
type Utterance interface {
	// Tap carries the played audio for level analysis; nil when the voice cannot be analyzed.
	Tap() *level.Tap
	// Done is closed when playback ends or is stopped.
	Done() <-chan struct{}
	// Err reports a playback failure once Done is closed.
	Err() error
	Stop()
}

// Player plays synthesized audio (speaker, outbound WebRTC track).
type Player interface {
	Play(ctx context.Context, audio []byte) (Utterance, error)
}

// LocalVoice is the on-device synthesizer. Speak blocks until the text has been spoken.
type LocalVoice interface {
	Speak(ctx context.Context, text string) error
}

// Output speaks assistant replies. It is the presentation-specific part of a
// session: remote TTS through a Player, or a streaming avatar.
type Output interface {
	Say(ctx context.Context, text string) (Utterance, error)
}

// Renderer presents session state. Methods are called synchronously; state and
// message callbacks run with the session lock held and must not call back into
// the Session.
type Renderer interface {
	OnStateChange(Status)
	OnAudioLevel(float64)
	OnMessage(speech.Message)
	OnNotice(string)
}

// NopRenderer ignores every event.
type NopRenderer struct{}

func (NopRenderer) OnStateChange(Status)     {}
func (NopRenderer) OnAudioLevel(float64)     {}
func (NopRenderer) OnMessage(speech.Message) {}
func (NopRenderer) OnNotice(string)          {}

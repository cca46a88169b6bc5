// Package tts synthesizes reply audio. Every provider returns a 16-bit mono
// WAV at SampleRate so any player can handle any provider.
package tts

import (
	"context"
	"errors"
)

const SampleRate = 24000

var ErrMissingCredentials = errors.New("tts credentials missing")

// Synthesizer turns text into a WAV clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

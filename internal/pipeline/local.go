// Package pipeline runs the speech pipeline in-process against the configured
// providers. The HTTP API, server-hosted WebRTC sessions and the phone line
// all go through it.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ken2274132-hash/Fluently-sub000/internal/metrics"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
	"github.com/ken2274132-hash/Fluently-sub000/internal/transcript"
	"github.com/ken2274132-hash/Fluently-sub000/internal/tts"
)

// ErrNotConfigured is returned for a step whose provider has no credentials.
var ErrNotConfigured = errors.New("provider not configured")

// Replier generates the tutor's next line.
type Replier interface {
	Reply(ctx context.Context, message string, history []speech.Message) (string, error)
}

// Local implements agent.Pipeline and agent.Synthesizer.
type Local struct {
	STT  transcript.Transcriber
	Chat Replier
	TTS  tts.Synthesizer
}

// Transcribe returns speech.ErrEmptyTranscription when the provider heard nothing.
func (l *Local) Transcribe(ctx context.Context, audio []byte, contentType string) (text string, err error) {
	defer observe(speech.StepTranscribe, time.Now(), &err)
	if l.STT == nil {
		return "", ErrNotConfigured
	}
	text, err = l.STT.Transcribe(ctx, audio, contentType)
	if err != nil {
		return "", remote(ctx, speech.StepTranscribe, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", speech.ErrEmptyTranscription
	}
	return text, nil
}

// GenerateReply sends the message with its trailing history to the chat model.
func (l *Local) GenerateReply(ctx context.Context, message string, history []speech.Message) (reply string, err error) {
	defer observe(speech.StepChat, time.Now(), &err)
	if l.Chat == nil {
		return "", ErrNotConfigured
	}
	reply, err = l.Chat.Reply(ctx, message, speech.TrailingHistory(history))
	if err != nil {
		return "", remote(ctx, speech.StepChat, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", speech.ErrEmptyReply
	}
	return reply, nil
}

// Synthesize wraps every failure in speech.ErrSynthesisUnavailable so callers
// fall back to a local voice.
func (l *Local) Synthesize(ctx context.Context, text string) (audio []byte, err error) {
	defer observe(speech.StepSynthesize, time.Now(), &err)
	if l.TTS == nil {
		return nil, errors.Join(speech.ErrSynthesisUnavailable, ErrNotConfigured)
	}
	audio, err = l.TTS.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Join(speech.ErrSynthesisUnavailable, err)
	}
	return audio, nil
}

func remote(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var rse *speech.RemoteServiceError
	if errors.As(err, &rse) {
		return err
	}
	return &speech.RemoteServiceError{Step: step, Cause: err}
}

func observe(step string, started time.Time, err *error) {
	metrics.ObservePipeline(step, started, *err)
}

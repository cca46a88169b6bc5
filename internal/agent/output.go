package agent

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/ken2274132-hash/Fluently-sub000/internal/level"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

// ErrNoVoice is returned when neither remote synthesis nor a local voice is available.
var ErrNoVoice = errors.New("no voice available")

// SpeechOutput speaks through remote TTS and a Player, falling back to the
// on-device voice when synthesis or playback is unavailable.
type SpeechOutput struct {
	Synth    Synthesizer
	Player   Player
	Fallback LocalVoice
	// OnFallback, when set, is told every time the local voice takes over.
	OnFallback func(err error)
}

// Say implements Output.
func (o *SpeechOutput) Say(ctx context.Context, text string) (Utterance, error) {
	var err error
	if o.Synth != nil && o.Player != nil {
		var audio []byte
		audio, err = o.Synth.Synthesize(ctx, text)
		if err == nil {
			u, perr := o.Player.Play(ctx, audio)
			if perr == nil {
				return u, nil
			}
			err = errors.Join(speech.ErrSynthesisUnavailable, perr)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, speech.ErrSynthesisUnavailable) {
			return nil, err
		}
	} else {
		err = speech.ErrSynthesisUnavailable
	}
	if o.Fallback == nil {
		return nil, errors.Join(ErrNoVoice, err)
	}
	log.Printf("tts unavailable, using local voice: %v", err)
	if o.OnFallback != nil {
		o.OnFallback(err)
	}
	return speakLocally(ctx, o.Fallback, text), nil
}

// localUtterance runs the on-device voice sentence by sentence so Stop takes
// effect at the next sentence boundary at the latest.
type localUtterance struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func speakLocally(ctx context.Context, voice LocalVoice, text string) *localUtterance {
	ctx, cancel := context.WithCancel(ctx)
	u := &localUtterance{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(u.done)
		defer cancel()
		for _, chunk := range chunkReply(text) {
			if ctx.Err() != nil {
				return
			}
			if err := voice.Speak(ctx, chunk); err != nil {
				if ctx.Err() == nil {
					u.mu.Lock()
					u.err = err
					u.mu.Unlock()
				}
				return
			}
		}
	}()
	return u
}

func (u *localUtterance) Tap() *level.Tap       { return nil }
func (u *localUtterance) Done() <-chan struct{} { return u.done }
func (u *localUtterance) Stop()                 { u.cancel() }
func (u *localUtterance) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// chunkReply splits a reply into sentence-like chunks, retaining punctuation.
// Heuristic: split on '.', '?', '!' and newlines.
func chunkReply(reply string) []string {
	txt := strings.TrimSpace(reply)
	if txt == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	flush := func() {
		if chunk := strings.TrimSpace(b.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
		b.Reset()
	}
	for _, r := range txt {
		switch r {
		case '.', '!', '?':
			b.WriteRune(r)
			flush()
		case '\n', '\r':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return chunks
}

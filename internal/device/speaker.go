package device

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/ken2274132-hash/Fluently-sub000/internal/agent"
	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
	"github.com/ken2274132-hash/Fluently-sub000/internal/level"
	"github.com/ken2274132-hash/Fluently-sub000/internal/tts"
)

const (
	// speakerBuffer is ~100ms at 24kHz mono 16-bit.
	speakerBuffer = 4800
	pollInterval  = 20 * time.Millisecond
)

// Speaker plays synthesized WAV clips on the default output device.
// oto allows one context per process, so a program creates one Speaker.
type Speaker struct {
	ctx  *oto.Context
	rate int
}

var _ agent.Player = (*Speaker)(nil)

// NewSpeaker opens the output device at the synthesis sample rate.
func NewSpeaker() (*Speaker, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   tts.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   speakerBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &Speaker{ctx: ctx, rate: tts.SampleRate}, nil
}

// Play starts a clip. The returned utterance's tap sees samples as oto pulls them.
func (s *Speaker) Play(ctx context.Context, audio []byte) (agent.Utterance, error) {
	pcm, format, err := capture.DecodeWAV(audio)
	if err != nil {
		return nil, fmt.Errorf("decode reply audio: %w", err)
	}
	if format.SampleRate != s.rate || format.Channels != 1 {
		return nil, fmt.Errorf("unsupported audio format %d Hz x%d", format.SampleRate, format.Channels)
	}
	u := &speakerUtterance{tap: level.NewTap(level.FFTSize * 8), done: make(chan struct{})}
	u.player = s.ctx.NewPlayer(&tapReader{r: bytes.NewReader(pcm), tap: u.tap})
	u.player.Play()
	go u.watch(ctx)
	return u, nil
}

// tapReader copies what the player reads into a level tap.
type tapReader struct {
	r   *bytes.Reader
	tap *level.Tap
}

func (t *tapReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.tap.WritePCM16(p[:n])
	}
	return n, err
}

type speakerUtterance struct {
	player *oto.Player
	tap    *level.Tap
	done   chan struct{}
	once   sync.Once
}

func (u *speakerUtterance) watch(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			u.Stop()
			return
		case <-u.done:
			return
		case <-ticker.C:
			if !u.player.IsPlaying() {
				u.finish()
				return
			}
		}
	}
}

func (u *speakerUtterance) finish() {
	u.once.Do(func() {
		u.tap.Close()
		_ = u.player.Close()
		close(u.done)
	})
}

func (u *speakerUtterance) Tap() *level.Tap       { return u.tap }
func (u *speakerUtterance) Done() <-chan struct{} { return u.done }
func (u *speakerUtterance) Err() error            { return nil }

func (u *speakerUtterance) Stop() {
	u.player.Pause()
	u.finish()
}

package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ken2274132-hash/Fluently-sub000/internal/agent"
	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
	"github.com/ken2274132-hash/Fluently-sub000/internal/level"
)

// tapSize holds a little more than one 256-point analysis window at 48kHz.
const tapSize = 2048

// trackPlayer plays WAV clips on the outbound track and exposes what is
// actually being sent as a level tap.
type trackPlayer struct {
	w       *OpusPacedWriter
	current atomic.Pointer[level.Tap]
}

func newTrackPlayer(w *OpusPacedWriter) *trackPlayer {
	p := &trackPlayer{w: w}
	w.OnSent = func(pcm []byte) {
		if t := p.current.Load(); t != nil {
			t.WritePCM16(pcm)
		}
	}
	return p
}

// Play implements agent.Player.
func (p *trackPlayer) Play(ctx context.Context, audio []byte) (agent.Utterance, error) {
	pcm, format, err := capture.DecodeWAV(audio)
	if err != nil {
		return nil, fmt.Errorf("decode reply audio: %w", err)
	}
	if format.Channels != 1 {
		return nil, fmt.Errorf("unsupported channel count %d", format.Channels)
	}
	p.w.Reset()
	u := &trackUtterance{player: p, tap: level.NewTap(tapSize), done: make(chan struct{})}
	p.current.Store(u.tap)
	go u.feed(resample(pcm, format.SampleRate, outputRate))
	go func() {
		select {
		case <-ctx.Done():
			u.Stop()
		case <-u.done:
		}
	}()
	return u, nil
}

type trackUtterance struct {
	player *trackPlayer
	tap    *level.Tap
	done   chan struct{}
	once   sync.Once
}

// feed queues the clip a frame at a time so Stop takes effect mid-clip.
func (u *trackUtterance) feed(pcm []byte) {
	const chunk = frameSamples * 2
	for off := 0; off < len(pcm); off += chunk {
		if u.stopped() {
			return
		}
		u.player.w.WritePCM(pcm[off:min(off+chunk, len(pcm))])
	}
	if !u.stopped() {
		u.player.w.FlushTail(u.finish)
	}
}

func (u *trackUtterance) stopped() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

func (u *trackUtterance) finish() {
	u.once.Do(func() {
		u.player.current.CompareAndSwap(u.tap, nil)
		u.tap.Close()
		close(u.done)
	})
}

func (u *trackUtterance) Tap() *level.Tap       { return u.tap }
func (u *trackUtterance) Done() <-chan struct{} { return u.done }
func (u *trackUtterance) Err() error            { return nil }

// Stop drops the queued audio at once.
func (u *trackUtterance) Stop() {
	if u.stopped() {
		return
	}
	if u.player.current.Load() == u.tap {
		u.player.w.Reset()
	}
	u.finish()
}

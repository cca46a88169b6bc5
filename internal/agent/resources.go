package agent

import (
	"context"
	"sync"
	"time"

	"github.com/ken2274132-hash/Fluently-sub000/internal/level"
)

// resources are the hardware-backed handles owned by one running session.
// They are acquired in newResources and released exactly once by release,
// whichever path ends the session.
type resources struct {
	ctx      context.Context
	cancel   context.CancelFunc
	analyzer *level.Analyzer
	loop     *level.Loop
	recorder Recorder

	mu        sync.Mutex
	utterance Utterance
	recording bool
	lastLevel float64
	released  bool
}

func newResources(parent context.Context, rec Recorder, onLevel func(float64)) *resources {
	ctx, cancel := context.WithCancel(parent)
	r := &resources{
		ctx:      ctx,
		cancel:   cancel,
		analyzer: level.NewAnalyzer(),
		recorder: rec,
	}
	r.loop = level.StartLoop(level.FrameInterval, func(time.Time) {
		v := r.analyzer.Tick()
		r.mu.Lock()
		changed := v != r.lastLevel
		r.lastLevel = v
		r.mu.Unlock()
		if changed && onLevel != nil {
			onLevel(v)
		}
	})
	return r
}

func (r *resources) setUtterance(u Utterance) {
	r.mu.Lock()
	r.utterance = u
	r.mu.Unlock()
	if u != nil && u.Tap() != nil {
		r.analyzer.Attach(u.Tap())
	} else {
		r.analyzer.Detach()
	}
}

func (r *resources) clearUtterance(u Utterance) {
	r.mu.Lock()
	if r.utterance == u {
		r.utterance = nil
	}
	r.mu.Unlock()
	r.analyzer.Detach()
}

func (r *resources) startRecording() error {
	tap, err := r.recorder.Start()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.recording = true
	r.mu.Unlock()
	r.analyzer.Attach(tap)
	return nil
}

func (r *resources) stopRecording() ([]byte, string, bool) {
	r.mu.Lock()
	r.recording = false
	r.mu.Unlock()
	r.analyzer.Detach()
	clip, ok := r.recorder.Stop()
	return clip.Data, clip.ContentType, ok
}

// release tears everything down. Safe to call more than once.
func (r *resources) release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	u := r.utterance
	r.utterance = nil
	recording := r.recording
	r.recording = false
	r.mu.Unlock()

	r.cancel()
	if u != nil {
		u.Stop()
	}
	if recording {
		r.recorder.Stop()
	}
	r.loop.Stop()
	r.analyzer.Detach()
}

// Package device binds sessions to local audio hardware: malgo for the
// microphone, oto for the speaker and the host speech synthesizer as the
// fallback voice.
package device

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
)

// Audio owns the malgo context shared by every microphone opened from it.
type Audio struct {
	ctx *malgo.AllocatedContext
}

// NewAudio initializes the host audio backend.
func NewAudio() (*Audio, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	return &Audio{ctx: ctx}, nil
}

// Close releases the audio backend.
func (a *Audio) Close() {
	if a == nil || a.ctx == nil {
		return
	}
	_ = a.ctx.Uninit()
	a.ctx.Free()
	a.ctx = nil
}

// Microphone returns an opener for the default capture device in format f.
func (a *Audio) Microphone(f capture.Format) capture.Opener {
	return func() (capture.Device, error) {
		if a == nil || a.ctx == nil {
			return nil, capture.ErrDeviceUnavailable
		}
		return &microphone{ctx: a.ctx.Context, format: f}, nil
	}
}

// microphone is one capture stream. The malgo device exists only between
// Start and Stop.
type microphone struct {
	ctx    malgo.Context
	format capture.Format

	mu  sync.Mutex
	dev *malgo.Device
}

func (m *microphone) Start(onData func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev != nil {
		return nil
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(m.format.Channels)
	cfg.SampleRate = uint32(m.format.SampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	dev, err := malgo.InitDevice(m.ctx, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) == 0 {
				return
			}
			buf := make([]byte, len(input))
			copy(buf, input)
			onData(buf)
		},
	})
	if err != nil {
		return classify(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return classify(err)
	}
	m.dev = dev
	return nil
}

func (m *microphone) Stop() error {
	m.mu.Lock()
	dev := m.dev
	m.dev = nil
	m.mu.Unlock()
	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	return err
}

// classify maps backend failures onto the capture error taxonomy.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
}

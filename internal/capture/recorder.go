package capture

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/ken2274132-hash/Fluently-sub000/internal/level"
)

var (
	// ErrPermissionDenied is returned when the host refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable is returned when no capture device can be opened.
	ErrDeviceUnavailable = errors.New("microphone unavailable")
)

// ContentTypeWAV is the MIME type of every finalized Clip.
const ContentTypeWAV = "audio/wav"

// Format describes 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is 16 kHz mono, what the speech-to-text providers expect.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// Device is a started-on-demand PCM source (microphone, inbound WebRTC track).
type Device interface {
	// Start begins delivering PCM16LE buffers to onData until Stop.
	Start(onData func(pcm []byte)) error
	Stop() error
}

// Opener acquires a capture device. It is called once per recording.
type Opener func() (Device, error)

// Clip is a finalized recording.
type Clip struct {
	Data        []byte
	ContentType string
	Duration    time.Duration
}

// Recorder buffers one recording at a time from devices returned by its Opener
// and feeds a level tap in parallel.
type Recorder struct {
	open       Opener
	format     Format
	onComplete func(Clip)

	mu        sync.Mutex
	dev       Device
	tap       *level.Tap
	buf       bytes.Buffer
	startedAt time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFormat overrides DefaultFormat.
func WithFormat(f Format) Option { return func(r *Recorder) { r.format = f } }

// WithOnComplete registers a callback invoked with each finalized clip.
func WithOnComplete(fn func(Clip)) Option { return func(r *Recorder) { r.onComplete = fn } }

// NewRecorder constructs a Recorder.
func NewRecorder(open Opener, opts ...Option) *Recorder {
	r := &Recorder{open: open, format: DefaultFormat}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens the device and begins buffering. A recording already in progress
// is discarded first so that at most one device is ever open.
func (r *Recorder) Start() (*level.Tap, error) {
	r.mu.Lock()
	if prev := r.detachLocked(); prev != nil {
		r.mu.Unlock()
		stopDevice(prev)
		r.mu.Lock()
	}
	dev, err := r.open()
	if err != nil {
		r.mu.Unlock()
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, errors.Join(ErrDeviceUnavailable, err)
	}
	tap := level.NewTap(level.FFTSize)
	r.buf.Reset()
	r.dev = dev
	r.tap = tap
	r.startedAt = time.Now()
	r.mu.Unlock()

	// devices may deliver the first buffer synchronously, so start unlocked
	if err := dev.Start(func(pcm []byte) { r.write(dev, pcm) }); err != nil {
		r.mu.Lock()
		var stale Device
		if r.dev == dev {
			stale = r.detachLocked()
		}
		r.mu.Unlock()
		stopDevice(stale)
		return nil, errors.Join(ErrDeviceUnavailable, err)
	}
	return tap, nil
}

func (r *Recorder) write(dev Device, pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// late buffers from a device that has since been replaced
	if r.dev != dev {
		return
	}
	r.buf.Write(pcm)
	r.tap.WritePCM16(pcm)
}

// Stop finalizes the buffered audio into a WAV clip and releases the device.
// It reports false, and does nothing, when no recording is active.
func (r *Recorder) Stop() (Clip, bool) {
	r.mu.Lock()
	if r.dev == nil {
		r.mu.Unlock()
		return Clip{}, false
	}
	pcm := append([]byte(nil), r.buf.Bytes()...)
	started := r.startedAt
	dev := r.detachLocked()
	cb := r.onComplete
	r.mu.Unlock()
	// Stop waits for in-flight callbacks, which need r.mu
	stopDevice(dev)

	clip := Clip{
		Data:        EncodeWAV(pcm, r.format.SampleRate, r.format.Channels),
		ContentType: ContentTypeWAV,
		Duration:    time.Since(started),
	}
	if cb != nil {
		cb(clip)
	}
	return clip, true
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev != nil
}

// detachLocked forgets the active device and closes its tap. The caller stops
// the returned device after releasing r.mu.
func (r *Recorder) detachLocked() Device {
	dev := r.dev
	r.dev = nil
	if r.tap != nil {
		r.tap.Close()
		r.tap = nil
	}
	r.buf.Reset()
	return dev
}

func stopDevice(dev Device) {
	if dev != nil {
		_ = dev.Stop()
	}
}

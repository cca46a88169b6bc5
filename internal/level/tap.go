// Package level turns live PCM into the normalized loudness signal that drives
// the orb and the avatar mouth.
package level

import (
	"encoding/binary"
	"sync"
)

const pcmMaxAmplitude = 32768.0

// Tap keeps the most recent samples of one audio source. Producers write PCM
// into it; an Analyzer reads windows out of it once per frame.
type Tap struct {
	mu     sync.Mutex
	ring   []float64
	pos    int
	active bool
	closed bool
}

// NewTap returns an active tap remembering the last size samples.
func NewTap(size int) *Tap {
	if size <= 0 {
		size = FFTSize
	}
	return &Tap{ring: make([]float64, size), active: true}
}

// WritePCM16 appends little-endian 16-bit mono samples.
func (t *Tap) WritePCM16(pcm []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		t.ring[t.pos] = float64(int16(binary.LittleEndian.Uint16(pcm[i:i+2]))) / pcmMaxAmplitude
		t.pos = (t.pos + 1) % len(t.ring)
	}
}

// WriteSamples appends samples already normalized to [-1,1].
func (t *Tap) WriteSamples(samples []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, s := range samples {
		t.ring[t.pos] = s
		t.pos = (t.pos + 1) % len(t.ring)
	}
}

// SetActive pauses or resumes the tap. A paused tap reads as silent.
func (t *Tap) SetActive(on bool) {
	t.mu.Lock()
	if !t.closed {
		t.active = on
	}
	t.mu.Unlock()
}

// Close marks the source as ended. It is safe to call more than once.
func (t *Tap) Close() {
	t.mu.Lock()
	t.closed = true
	t.active = false
	t.mu.Unlock()
}

// Active reports whether the source is still producing audio.
func (t *Tap) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Window fills dst with the latest len(dst) samples, oldest first, and reports
// whether the source is active. Inactive taps leave dst untouched.
func (t *Tap) Window(dst []float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return false
	}
	n := len(t.ring)
	start := t.pos - len(dst)
	for i := range dst {
		idx := start + i
		if len(dst) > n && i < len(dst)-n {
			dst[i] = 0
			continue
		}
		dst[i] = t.ring[((idx%n)+n)%n]
	}
	return true
}

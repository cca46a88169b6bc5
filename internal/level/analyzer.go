package level

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser parameters mirror the Web Audio defaults the orb was tuned against.
const (
	FFTSize     = 256
	BinCount    = FFTSize / 2
	MinDecibels = -100.0
	MaxDecibels = -30.0
	Smoothing   = 0.8

	// voice fundamentals live roughly in bins [VoiceLowBin, VoiceHighBin)
	VoiceLowBin  = 2
	VoiceHighBin = 70
	normalizer   = 128.0
)

// Level averages the voice sub-range of a byte spectrum into [0,1].
func Level(freq []uint8) float64 {
	hi := VoiceHighBin
	if hi > len(freq) {
		hi = len(freq)
	}
	if hi <= VoiceLowBin {
		return 0
	}
	var sum float64
	for _, v := range freq[VoiceLowBin:hi] {
		sum += float64(v)
	}
	return clamp01(sum / float64(hi-VoiceLowBin) / normalizer)
}

// Analyzer samples one attached Tap per frame. It owns the FFT graph; one
// analyzer is shared by the capture and playback paths of a session.
type Analyzer struct {
	mu       sync.Mutex
	fft      *fourier.FFT
	tap      *Tap
	frame    []float64
	coeffs   []complex128
	smoothed []float64
	freq     []uint8
	level    float64
}

// NewAnalyzer allocates the frequency analysis buffers.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		fft:      fourier.NewFFT(FFTSize),
		frame:    make([]float64, FFTSize),
		coeffs:   make([]complex128, FFTSize/2+1),
		smoothed: make([]float64, BinCount),
		freq:     make([]uint8, BinCount),
	}
}

// Attach points the analyzer at tap. Attaching the tap that is already attached
// is a no-op; attaching a different one replaces it and clears smoothing.
func (a *Analyzer) Attach(tap *Tap) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tap == tap {
		return
	}
	a.tap = tap
	a.resetLocked()
}

// Detach drops the current tap and returns the level to zero.
func (a *Analyzer) Detach() {
	a.mu.Lock()
	a.tap = nil
	a.resetLocked()
	a.mu.Unlock()
}

// Attached returns the current tap, if any.
func (a *Analyzer) Attached() *Tap {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tap
}

// Tick samples the attached tap once and returns the new level. The level is
// zero whenever there is no tap or the tap has paused or ended.
func (a *Analyzer) Tick() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tap == nil || !a.tap.Window(a.frame) {
		a.resetLocked()
		return 0
	}
	a.frequencyDataLocked()
	a.level = Level(a.freq)
	return a.level
}

// Level returns the value computed by the last Tick.
func (a *Analyzer) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.level
}

// FrequencyData returns a copy of the last byte spectrum.
func (a *Analyzer) FrequencyData() []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint8(nil), a.freq...)
}

func (a *Analyzer) frequencyDataLocked() {
	window.Blackman(a.frame)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)
	scale := 255.0 / (MaxDecibels - MinDecibels)
	for k := 0; k < BinCount; k++ {
		mag := cmplx.Abs(a.coeffs[k]) / FFTSize
		a.smoothed[k] = Smoothing*a.smoothed[k] + (1-Smoothing)*mag
		db := 20 * math.Log10(a.smoothed[k])
		v := math.Floor(scale * (db - MinDecibels))
		switch {
		case math.IsNaN(v) || v < 0:
			a.freq[k] = 0
		case v > 255:
			a.freq[k] = 255
		default:
			a.freq[k] = uint8(v)
		}
	}
}

func (a *Analyzer) resetLocked() {
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
	for i := range a.freq {
		a.freq[i] = 0
	}
	a.level = 0
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

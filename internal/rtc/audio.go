package rtc

import (
	"math"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	outputRate   = 48000
	frameSamples = 960 // 20ms at 48kHz
	frameLength  = 20 * time.Millisecond
	tailFrames   = 10
)

// sampleWriter is the part of a local track the writer needs.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

type pacedFrame struct {
	data []byte
	pcm  []byte
	// mark runs when the pacer reaches this position instead of sending audio
	mark func()
}

// OpusPacedWriter encodes 48kHz mono PCM to Opus and writes one frame every
// 20ms to a track. OnSent receives the PCM behind every frame as it goes out.
type OpusPacedWriter struct {
	enc    *opus.Encoder
	track  sampleWriter
	OnSent func(pcm []byte)

	mu      sync.Mutex
	pcmBuf  []int16
	frames  chan pacedFrame
	stopCh  chan struct{}
	stopped bool
}

// NewOpusPacedWriter starts the pacer for track.
func NewOpusPacedWriter(track sampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(outputRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := newPacedWriter(track, enc)
	go w.pacer()
	return w, nil
}

func newPacedWriter(track sampleWriter, enc *opus.Encoder) *OpusPacedWriter {
	return &OpusPacedWriter{
		enc:    enc,
		track:  track,
		frames: make(chan pacedFrame, 512),
		stopCh: make(chan struct{}),
	}
}

// WritePCM buffers PCM16LE and queues every complete frame.
func (w *OpusPacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(pcmBytes) / 2
	for i := 0; i < n; i++ {
		w.pcmBuf = append(w.pcmBuf, int16(uint16(pcmBytes[2*i])|uint16(pcmBytes[2*i+1])<<8))
	}
	for len(w.pcmBuf) >= frameSamples {
		w.encodeLocked(w.pcmBuf[:frameSamples])
		w.pcmBuf = append(w.pcmBuf[:0], w.pcmBuf[frameSamples:]...)
	}
}

// FlushTail pads the remaining PCM to a full frame, appends ~200ms of silence
// so the last syllable is not clipped, then queues done as a marker.
func (w *OpusPacedWriter) FlushTail(done func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, frameSamples)
		copy(pad, w.pcmBuf)
		w.encodeLocked(pad)
		w.pcmBuf = w.pcmBuf[:0]
	}
	silence := make([]int16, frameSamples)
	for i := 0; i < tailFrames; i++ {
		w.encodeLocked(silence)
	}
	if done != nil {
		w.pushFrame(pacedFrame{mark: done})
	}
}

func (w *OpusPacedWriter) encodeLocked(frame []int16) {
	pcm := make([]byte, len(frame)*2)
	for i, s := range frame {
		pcm[2*i] = byte(uint16(s))
		pcm[2*i+1] = byte(uint16(s) >> 8)
	}
	var pkt []byte
	if w.enc != nil {
		buf := make([]byte, 4000)
		n, err := w.enc.Encode(frame, buf)
		if err != nil || n == 0 {
			return
		}
		pkt = buf[:n]
	}
	w.pushFrame(pacedFrame{data: pkt, pcm: pcm})
}

// Close stops the pacer. Queued frames are dropped.
func (w *OpusPacedWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
}

func (w *OpusPacedWriter) pacer() {
	ticker := time.NewTicker(frameLength)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sendNext()
		}
	}
}

// sendNext writes one queued frame. Markers are consumed without costing a tick.
func (w *OpusPacedWriter) sendNext() {
	for {
		select {
		case f := <-w.frames:
			if f.mark != nil {
				f.mark()
				continue
			}
			_ = w.track.WriteSample(media.Sample{Data: f.data, Duration: frameLength})
			if w.OnSent != nil {
				w.OnSent(f.pcm)
			}
		default:
		}
		return
	}
}

// pushFrame enqueues a frame, blocking until there is room or the writer stops.
func (w *OpusPacedWriter) pushFrame(f pacedFrame) {
	select {
	case <-w.stopCh:
	case w.frames <- f:
	}
}

// Reset drops everything queued, markers included, for an immediate stop.
func (w *OpusPacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			w.pcmBuf = w.pcmBuf[:0]
			return
		}
	}
}

// resample converts PCM16LE mono between rates by linear interpolation.
func resample(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 || len(pcm) < 2 {
		return pcm
	}
	in := len(pcm) / 2
	out := int(int64(in) * int64(to) / int64(from))
	sample := func(i int) float64 {
		if i >= in {
			i = in - 1
		}
		return float64(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	dst := make([]byte, out*2)
	step := float64(from) / float64(to)
	for j := 0; j < out; j++ {
		pos := float64(j) * step
		i := int(pos)
		frac := pos - float64(i)
		v := int16(math.Round(sample(i)*(1-frac) + sample(i+1)*frac))
		dst[2*j] = byte(uint16(v))
		dst[2*j+1] = byte(uint16(v) >> 8)
	}
	return dst
}

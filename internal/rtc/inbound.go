package rtc

import (
	"encoding/binary"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/hraban/opus"

	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
)

const inboundRate = 16000

// inboundDevice is the browser microphone as seen through the remote track.
// Audio flows to the recorder only between Start and Stop; the track is
// drained either way.
type inboundDevice struct {
	mu     sync.Mutex
	onData func([]byte)
	ready  bool
}

var _ capture.Device = (*inboundDevice)(nil)

func (d *inboundDevice) Start(onData func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return capture.ErrDeviceUnavailable
	}
	d.onData = onData
	return nil
}

func (d *inboundDevice) Stop() error {
	d.mu.Lock()
	d.onData = nil
	d.mu.Unlock()
	return nil
}

func (d *inboundDevice) setReady(ok bool) {
	d.mu.Lock()
	d.ready = ok
	if !ok {
		d.onData = nil
	}
	d.mu.Unlock()
}

func (d *inboundDevice) feed(pcm []byte) {
	d.mu.Lock()
	fn := d.onData
	d.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
}

// opener hands the same device to every recording.
func (d *inboundDevice) opener() capture.Opener {
	return func() (capture.Device, error) { return d, nil }
}

// payloadReader returns the next RTP payload from a remote track.
type payloadReader func() ([]byte, error)

// decodeLoop decodes Opus payloads to 16kHz PCM16LE until the track ends.
func (d *inboundDevice) decodeLoop(callID string, read payloadReader, dec *opus.Decoder) {
	d.setReady(true)
	defer d.setReady(false)
	samples := make([]int16, 1920)
	for {
		payload, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[%s] RTP read error: %v", callID, err)
			}
			return
		}
		if len(payload) == 0 {
			continue
		}
		n, err := dec.Decode(payload, samples)
		if err != nil {
			log.Printf("[%s] Opus decode error: %v", callID, err)
			continue
		}
		pcm := make([]byte, n*2)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(samples[i]))
		}
		d.feed(pcm)
	}
}

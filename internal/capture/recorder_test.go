package capture

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeDevice struct {
	mu      sync.Mutex
	onData  func([]byte)
	started bool
	stops   int
}

func (d *fakeDevice) Start(onData func([]byte)) error {
	d.mu.Lock()
	d.onData = onData
	d.started = true
	d.mu.Unlock()
	// deliver one buffer synchronously like some backends do
	onData([]byte{1, 0, 2, 0})
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	d.started = false
	d.stops++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) push(pcm []byte) {
	d.mu.Lock()
	fn := d.onData
	d.mu.Unlock()
	fn(pcm)
}

type fakeOpener struct {
	devices []*fakeDevice
	err     error
}

func (o *fakeOpener) open() (Device, error) {
	if o.err != nil {
		return nil, o.err
	}
	d := &fakeDevice{}
	o.devices = append(o.devices, d)
	return d, nil
}

func openCount(o *fakeOpener) int {
	n := 0
	for _, d := range o.devices {
		d.mu.Lock()
		if d.started {
			n++
		}
		d.mu.Unlock()
	}
	return n
}

func TestRecorder_StartStopProducesWAV(t *testing.T) {
	o := &fakeOpener{}
	var completed []Clip
	r := NewRecorder(o.open, WithOnComplete(func(c Clip) { completed = append(completed, c) }))

	tap, err := r.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	o.devices[0].push([]byte{3, 0, 4, 0})

	clip, ok := r.Stop()
	if !ok {
		t.Fatalf("expected clip")
	}
	if clip.ContentType != ContentTypeWAV {
		t.Fatalf("content type %q", clip.ContentType)
	}
	pcm, f, err := DecodeWAV(clip.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f != DefaultFormat || len(pcm) != 8 {
		t.Fatalf("unexpected format %+v len %d", f, len(pcm))
	}
	if tap.Active() {
		t.Fatalf("tap must be closed after stop")
	}
	if len(completed) != 1 {
		t.Fatalf("expected one completion callback, got %d", len(completed))
	}
}

func TestRecorder_DoubleStopIsNoop(t *testing.T) {
	o := &fakeOpener{}
	calls := 0
	r := NewRecorder(o.open, WithOnComplete(func(Clip) { calls++ }))
	if _, ok := r.Stop(); ok {
		t.Fatalf("stop without start must be a no-op")
	}
	if _, err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.Stop()
	if _, ok := r.Stop(); ok {
		t.Fatalf("second stop must be a no-op")
	}
	if calls != 1 {
		t.Fatalf("expected 1 callback, got %d", calls)
	}
	if o.devices[0].stops != 1 {
		t.Fatalf("device stopped %d times", o.devices[0].stops)
	}
}

func TestRecorder_AtMostOneDeviceOpen(t *testing.T) {
	o := &fakeOpener{}
	r := NewRecorder(o.open)
	for i := 0; i < 5; i++ {
		if _, err := r.Start(); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if n := openCount(o); n != 1 {
			t.Fatalf("after start %d: %d devices open", i, n)
		}
	}
	// buffers from a replaced device are dropped
	o.devices[0].push([]byte{9, 9})
	clip, _ := r.Stop()
	pcm, _, _ := DecodeWAV(clip.Data)
	if len(pcm) != 4 {
		t.Fatalf("expected only the active device's audio, got %d bytes", len(pcm))
	}
	if n := openCount(o); n != 0 {
		t.Fatalf("%d devices still open", n)
	}
}

// threadedDevice delivers buffers from its own goroutine, and Stop waits for
// that goroutine to exit the way audio backends join their callback thread.
type threadedDevice struct {
	quit chan struct{}
	done chan struct{}
}

func (d *threadedDevice) Start(onData func([]byte)) error {
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		for {
			select {
			case <-d.quit:
				return
			default:
				onData([]byte{1, 0})
			}
		}
	}()
	return nil
}

func (d *threadedDevice) Stop() error {
	close(d.quit)
	<-d.done
	return nil
}

func TestRecorder_StopWaitsForCallbackThread(t *testing.T) {
	r := NewRecorder(func() (Device, error) { return &threadedDevice{}, nil })
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 50; i++ {
			if _, err := r.Start(); err != nil {
				t.Errorf("start %d: %v", i, err)
				return
			}
			time.Sleep(100 * time.Microsecond)
			if i%2 == 0 {
				// restart while recording replaces the device
				if _, err := r.Start(); err != nil {
					t.Errorf("restart %d: %v", i, err)
					return
				}
			}
			if _, ok := r.Stop(); !ok {
				t.Errorf("stop %d: no clip", i)
				return
			}
		}
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("Start/Stop blocked on a device whose callback was running")
	}
}

func TestRecorder_OpenErrors(t *testing.T) {
	r := NewRecorder((&fakeOpener{err: ErrPermissionDenied}).open)
	if _, err := r.Start(); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	r = NewRecorder((&fakeOpener{err: errors.New("no such device")}).open)
	if _, err := r.Start(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected device unavailable, got %v", err)
	}
	if r.Active() {
		t.Fatalf("recorder must not be active after a failed start")
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("nope")); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("expected ErrInvalidWAV, got %v", err)
	}
	wav := EncodeWAV([]byte{1, 2, 3, 4}, 24000, 1)
	pcm, f, err := DecodeWAV(wav)
	if err != nil || f.SampleRate != 24000 || len(pcm) != 4 {
		t.Fatalf("round trip failed: %v %+v %d", err, f, len(pcm))
	}
}

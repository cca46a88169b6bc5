package level

import (
	"sync"
	"time"
)

// FrameInterval is the animation frame cadence.
const FrameInterval = time.Second / 60

// Loop calls a tick function once per frame until stopped.
type Loop struct {
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// StartLoop runs tick every interval on its own goroutine.
func StartLoop(interval time.Duration, tick func(now time.Time)) *Loop {
	if interval <= 0 {
		interval = FrameInterval
	}
	l := &Loop{stopCh: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case now := <-ticker.C:
				tick(now)
			}
		}
	}()
	return l
}

// Stop cancels the pending frame and waits for the loop to exit. Calling Stop
// from inside tick would deadlock; tick functions must not do that.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.once.Do(func() { close(l.stopCh) })
	<-l.done
}

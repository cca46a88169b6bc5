package rtc

import (
	"context"
	"strings"
	"sync"
	"time"
)

// speakTimeout caps how long one sentence may take without an acknowledgement.
const speakTimeout = 20 * time.Second

// browserVoice asks the page to speak with its own synthesizer. The page
// acknowledges each sentence with a "spoken" command.
type browserVoice struct {
	renderer *channelRenderer

	mu      sync.Mutex
	waiting chan struct{}
}

func (v *browserVoice) Speak(ctx context.Context, text string) error {
	ack := make(chan struct{})
	v.mu.Lock()
	v.waiting = ack
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		if v.waiting == ack {
			v.waiting = nil
		}
		v.mu.Unlock()
	}()

	v.renderer.send(Event{Type: "speak", Text: strings.TrimSpace(text)})
	timer := time.NewTimer(speakTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		v.renderer.send(Event{Type: "speak-cancel"})
		return ctx.Err()
	}
}

// spoken releases the sentence currently waiting, if any.
func (v *browserVoice) spoken() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.waiting != nil {
		close(v.waiting)
		v.waiting = nil
	}
}

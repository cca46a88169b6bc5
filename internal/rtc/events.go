package rtc

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/ken2274132-hash/Fluently-sub000/internal/agent"
	"github.com/ken2274132-hash/Fluently-sub000/internal/animator"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

// levelStep is the smallest level change worth sending to the browser.
const levelStep = 0.02

// Event is one JSON message sent to the browser on the control channel.
type Event struct {
	Type    string          `json:"type"`
	State   string          `json:"state,omitempty"`
	Level   *float64        `json:"level,omitempty"`
	Message *speech.Message `json:"message,omitempty"`
	Notice  string          `json:"notice,omitempty"`
	Text    string          `json:"text,omitempty"`
	Pose    *animator.Pose  `json:"pose,omitempty"`
}

type textSender interface {
	SendText(s string) error
}

// channelRenderer forwards session events over the data channel. Level
// updates are thinned to changes of at least levelStep.
type channelRenderer struct {
	callID string

	mu        sync.Mutex
	out       textSender
	lastLevel float64
}

var _ agent.Renderer = (*channelRenderer)(nil)

func (r *channelRenderer) attach(out textSender) {
	r.mu.Lock()
	r.out = out
	r.mu.Unlock()
}

func (r *channelRenderer) send(ev Event) {
	r.mu.Lock()
	out := r.out
	r.mu.Unlock()
	if out == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := out.SendText(string(b)); err != nil {
		log.Printf("[%s] control send failed: %v", r.callID, err)
	}
}

func (r *channelRenderer) OnStateChange(s agent.Status) {
	r.send(Event{Type: "state", State: s.String()})
}

func (r *channelRenderer) OnAudioLevel(v float64) {
	r.mu.Lock()
	if math.Abs(v-r.lastLevel) < levelStep && v != 0 {
		r.mu.Unlock()
		return
	}
	r.lastLevel = v
	r.mu.Unlock()
	r.send(Event{Type: "level", Level: &v})
}

func (r *channelRenderer) OnMessage(m speech.Message) {
	r.send(Event{Type: "message", Message: &m})
}

func (r *channelRenderer) OnNotice(text string) {
	r.send(Event{Type: "notice", Notice: text})
}

func (r *channelRenderer) OnPose(p animator.Pose) {
	r.send(Event{Type: "pose", Pose: &p})
}

// controller is the part of agent.Session driven by control commands.
type controller interface {
	Press() error
	Release()
	SendText(text string) error
	Retry() error
	End() []speech.Message
}

// command applies one control message. start is handled by the caller since
// it needs the session lifetime context. Commands rejected because the session
// is busy are reported through notify.
func command(sess controller, raw string, notify func(string)) {
	raw = strings.TrimSpace(raw)
	var err error
	if text, ok := cutPrefixFold(raw, "say:"); ok {
		err = sess.SendText(text)
	} else {
		switch strings.ToLower(raw) {
		case "hold", "press":
			err = sess.Press()
		case "release":
			sess.Release()
		case "retry":
			err = sess.Retry()
		case "end", "bye":
			sess.End()
		}
	}
	if errors.Is(err, agent.ErrBusy) && notify != nil {
		notify(agent.Notice(err))
	}
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

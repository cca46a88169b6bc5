package agent

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

var (
	// ErrNotIdle is returned by Start on a session that is already running.
	ErrNotIdle = errors.New("session already started")
	// ErrBusy is returned when an action is not valid in the current state.
	ErrBusy = errors.New("session busy")
)

// Config wires a Session to its collaborators.
type Config struct {
	// ID identifies the session in logs; a random one is generated when empty.
	ID       string
	Pipeline Pipeline
	Recorder Recorder
	Output   Output
	Renderer Renderer
	// Greeting is the assistant's opening line.
	Greeting string
	// SilentGreeting shows the greeting without speaking it.
	SilentGreeting bool
	// OnEnd receives the final transcript when the session ends.
	OnEnd func(id string, transcript []speech.Message)
}

// Session is the conversational state machine shared by every presentation.
// One instance drives the orb page, the 3D avatar and the video avatar alike.
type Session struct {
	id       string
	pipeline Pipeline
	recorder Recorder
	output   Output
	renderer Renderer
	greeting string
	silent   bool
	onEnd    func(string, []speech.Message)

	mu         sync.Mutex
	status     Status
	transcript []speech.Message
	// pending is the user message whose reply failed, kept for Retry
	pending        string
	pendingHistory []speech.Message
	// gen changes on every End; async results carrying an old gen are dropped
	gen uint64
	res *resources
}

// NewSession constructs an idle session.
func NewSession(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = NopRenderer{}
	}
	return &Session{
		id:       cfg.ID,
		pipeline: cfg.Pipeline,
		recorder: cfg.Recorder,
		output:   cfg.Output,
		renderer: cfg.Renderer,
		greeting: strings.TrimSpace(cfg.Greeting),
		silent:   cfg.SilentGreeting,
		onEnd:    cfg.OnEnd,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []speech.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]speech.Message(nil), s.transcript...)
}

// Level returns the current audio level of whatever is attached.
func (s *Session) Level() float64 {
	s.mu.Lock()
	res := s.res
	s.mu.Unlock()
	if res == nil {
		return 0
	}
	return res.analyzer.Level()
}

// Start acquires session resources and opens the conversation.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusIdle {
		return ErrNotIdle
	}
	s.res = newResources(ctx, s.recorder, s.renderer.OnAudioLevel)
	s.setStatusLocked(StatusConnecting)
	log.Printf("[%s] session started", s.id)

	if s.greeting == "" {
		s.setStatusLocked(StatusConnected)
		return nil
	}
	s.appendLocked(speech.Message{Role: speech.RoleAssistant, Content: s.greeting})
	if s.silent {
		s.setStatusLocked(StatusConnected)
		return nil
	}
	go s.speak(s.res.ctx, s.gen, s.greeting)
	return nil
}

// Press starts listening (press-and-hold began).
func (s *Session) Press() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnected {
		return ErrBusy
	}
	if s.recorder == nil {
		err := capture.ErrDeviceUnavailable
		s.renderer.OnNotice(Notice(err))
		return err
	}
	if err := s.res.startRecording(); err != nil {
		log.Printf("[%s] microphone error: %v", s.id, err)
		s.renderer.OnNotice(Notice(err))
		return err
	}
	s.setStatusLocked(StatusListening)
	return nil
}

// Release ends listening and submits the recording. Releasing while not
// listening is a no-op.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusListening {
		return
	}
	audio, contentType, ok := s.res.stopRecording()
	s.setStatusLocked(StatusConnecting)
	if !ok {
		s.setStatusLocked(StatusConnected)
		return
	}
	go s.processRecording(s.res.ctx, s.gen, audio, contentType)
}

// SendText submits a typed message.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnected {
		return ErrBusy
	}
	s.setStatusLocked(StatusConnecting)
	go s.converse(s.res.ctx, s.gen, text)
	return nil
}

// Retry resubmits the message whose reply failed.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusError {
		return ErrBusy
	}
	if s.pending == "" {
		s.setStatusLocked(StatusConnected)
		return nil
	}
	s.setStatusLocked(StatusConnecting)
	go s.reply(s.res.ctx, s.gen, s.pending, s.pendingHistory)
	return nil
}

// End tears the session down and returns its transcript. Work still in flight
// is cancelled and its results are discarded.
func (s *Session) End() []speech.Message {
	s.mu.Lock()
	if s.status == StatusIdle && s.res == nil {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	res := s.res
	s.res = nil
	transcript := s.transcript
	s.transcript = nil
	s.pending = ""
	s.pendingHistory = nil
	s.setStatusLocked(StatusIdle)
	s.mu.Unlock()

	if res != nil {
		res.release()
	}
	s.renderer.OnAudioLevel(0)
	log.Printf("[%s] session ended (%d messages)", s.id, len(transcript))
	if s.onEnd != nil {
		s.onEnd(s.id, transcript)
	}
	return transcript
}

func (s *Session) processRecording(ctx context.Context, gen uint64, audio []byte, contentType string) {
	text, err := s.pipeline.Transcribe(ctx, audio, contentType)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = speech.ErrEmptyTranscription
	}
	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	if err != nil {
		log.Printf("[%s] transcription failed: %v", s.id, err)
		s.renderer.OnNotice(Notice(err))
		s.setStatusLocked(StatusConnected)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	log.Printf("[%s] heard: %s", s.id, text)
	s.converse(ctx, gen, text)
}

func (s *Session) converse(ctx context.Context, gen uint64, text string) {
	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	history := append([]speech.Message(nil), s.transcript...)
	s.appendLocked(speech.Message{Role: speech.RoleUser, Content: text})
	s.mu.Unlock()
	s.reply(ctx, gen, text, history)
}

func (s *Session) reply(ctx context.Context, gen uint64, text string, history []speech.Message) {
	reply, err := s.pipeline.GenerateReply(ctx, text, history)
	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	if err != nil {
		log.Printf("[%s] reply failed: %v", s.id, err)
		s.pending = text
		s.pendingHistory = history
		s.renderer.OnNotice(Notice(err))
		s.setStatusLocked(StatusError)
		s.mu.Unlock()
		return
	}
	s.pending = ""
	s.pendingHistory = nil
	s.appendLocked(speech.Message{Role: speech.RoleAssistant, Content: reply})
	s.mu.Unlock()
	s.speak(ctx, gen, reply)
}

// speak plays text and returns to connected when it finishes.
func (s *Session) speak(ctx context.Context, gen uint64, text string) {
	if s.output == nil {
		s.finishSpeaking(gen, nil)
		return
	}
	u, err := s.output.Say(ctx, text)
	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		if u != nil {
			u.Stop()
		}
		return
	}
	if err != nil {
		log.Printf("[%s] speech output failed: %v", s.id, err)
		s.renderer.OnNotice(Notice(err))
		s.setStatusLocked(StatusConnected)
		s.mu.Unlock()
		return
	}
	res := s.res
	res.setUtterance(u)
	s.setStatusLocked(StatusSpeaking)
	s.mu.Unlock()

	select {
	case <-u.Done():
	case <-ctx.Done():
		u.Stop()
	}
	res.clearUtterance(u)
	s.finishSpeaking(gen, u.Err())
}

func (s *Session) finishSpeaking(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleLocked(gen) {
		return
	}
	if err != nil {
		log.Printf("[%s] playback failed: %v", s.id, err)
		s.renderer.OnNotice(Notice(err))
	}
	s.setStatusLocked(StatusConnected)
}

func (s *Session) staleLocked(gen uint64) bool { return gen != s.gen || s.res == nil }

func (s *Session) appendLocked(m speech.Message) {
	s.transcript = append(s.transcript, m)
	s.renderer.OnMessage(m)
}

func (s *Session) setStatusLocked(next Status) {
	if next == s.status {
		return
	}
	if !CanTransition(s.status, next) {
		log.Printf("[%s] ignoring illegal transition %s -> %s", s.id, s.status, next)
		return
	}
	s.status = next
	s.renderer.OnStateChange(next)
}

package liveavatar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ken2274132-hash/Fluently-sub000/internal/agent"
	"github.com/ken2274132-hash/Fluently-sub000/internal/level"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

const (
	DefaultReconnectDelay    = 1500 * time.Millisecond
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultConnectWait bounds how long Say waits for a connecting session.
	DefaultConnectWait = 15 * time.Second
	keepAliveTimeout         = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("avatar not connected")
	ErrDisconnected = errors.New("avatar disconnected")
	ErrClosed       = errors.New("avatar adapter closed")
)

// TokenSource issues provider session tokens. *speech.Client satisfies it.
type TokenSource interface {
	LiveAvatarToken(ctx context.Context) (speech.AvatarToken, error)
}

// Factory builds a provider session for a token.
type Factory func(tok speech.AvatarToken) (SDKSession, error)

// VideoSink shows the avatar stream. Play must only be called in response to
// a user gesture.
type VideoSink interface {
	Attach(streamURL string) error
	Play() error
}

// Listener receives adapter state. Callbacks run with the adapter lock held.
type Listener interface {
	OnStatus(agent.Status)
	OnNotice(string)
}

// Options tune an Adapter. Zero values use the defaults.
type Options struct {
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	ConnectWait       time.Duration
	Sink              VideoSink
	Listener          Listener
}

// Adapter owns at most one provider session at a time.
type Adapter struct {
	tokens         TokenSource
	factory        Factory
	sink           VideoSink
	listener       Listener
	reconnectDelay time.Duration
	heartbeat      time.Duration
	connectWait    time.Duration

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	sess      SDKSession
	gen       uint64
	status    agent.Status
	// changed is closed and replaced on every status change
	changed   chan struct{}
	streamURL string
	gesture   bool
	playing   bool
	stopBeat  chan struct{}
	reconnect *time.Timer
	speaking  *utterance
	closed    bool
}

// NewAdapter wires an adapter to its token source and session factory.
func NewAdapter(tokens TokenSource, factory Factory, opts Options) *Adapter {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ConnectWait <= 0 {
		opts.ConnectWait = DefaultConnectWait
	}
	return &Adapter{
		tokens:         tokens,
		factory:        factory,
		sink:           opts.Sink,
		listener:       opts.Listener,
		reconnectDelay: opts.ReconnectDelay,
		heartbeat:      opts.HeartbeatInterval,
		connectWait:    opts.ConnectWait,
		changed:        make(chan struct{}),
	}
}

// Connect starts the first provider session. The adapter keeps reconnecting
// after transient disconnects until Close.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.cancel == nil {
		a.ctx, a.cancel = context.WithCancel(ctx)
	}
	a.mu.Unlock()
	return a.connect()
}

func (a *Adapter) connect() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.gen++
	gen := a.gen
	ctx := a.ctx
	a.setStatusLocked(agent.StatusConnecting)
	a.mu.Unlock()

	sess, err := a.open(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen || a.closed {
		if sess != nil {
			go func() { _ = sess.Stop(context.Background()) }()
		}
		return ErrClosed
	}
	if err != nil {
		log.Printf("liveavatar: start failed: %v", err)
		if CreditsExhausted(err.Error()) {
			a.failLocked(CreditsExhaustedMessage)
		} else {
			a.setStatusLocked(agent.StatusIdle)
			a.notifyLocked(fmt.Sprintf("Could not start the video avatar: %v", err))
		}
		return err
	}
	a.sess = sess
	go a.pump(gen, sess)
	return nil
}

func (a *Adapter) open(ctx context.Context) (SDKSession, error) {
	tok, err := a.tokens.LiveAvatarToken(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := a.factory(tok)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func (a *Adapter) pump(gen uint64, sess SDKSession) {
	for ev := range sess.Events() {
		a.handle(gen, ev)
	}
}

func (a *Adapter) handle(gen uint64, ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen || a.closed {
		return
	}
	switch ev.Type {
	case EventStateChanged:
		switch ev.State {
		case StateConnected:
			a.setStatusLocked(agent.StatusConnected)
			a.startHeartbeatLocked()
		case StateConnecting:
			a.setStatusLocked(agent.StatusConnecting)
		case StateDisconnected:
			a.stopHeartbeatLocked()
			a.setStatusLocked(agent.StatusIdle)
		}
	case EventStreamReady:
		a.streamURL = ev.StreamURL
		a.playing = false
		if a.sink != nil {
			if err := a.sink.Attach(ev.StreamURL); err != nil {
				log.Printf("liveavatar: attach stream: %v", err)
				return
			}
		}
		if a.gesture {
			a.playLocked()
		}
	case EventSpeakStarted:
	case EventSpeakEnded:
		if a.speaking != nil {
			a.speaking.finish(nil)
			a.speaking = nil
		}
	case EventDisconnected:
		a.disconnectedLocked(ev.Reason)
	}
}

func (a *Adapter) disconnectedLocked(reason string) {
	log.Printf("liveavatar: disconnected (%s)", reason)
	a.stopHeartbeatLocked()
	a.sess = nil
	a.streamURL = ""
	a.playing = false
	if a.speaking != nil {
		a.speaking.finish(ErrDisconnected)
		a.speaking = nil
	}
	switch {
	case CreditsExhausted(reason):
		a.failLocked(CreditsExhaustedMessage)
	case Recoverable(reason):
		a.setStatusLocked(agent.StatusConnecting)
		a.gen++
		gen := a.gen
		a.reconnect = time.AfterFunc(a.reconnectDelay, func() { a.restart(gen) })
	default:
		a.setStatusLocked(agent.StatusIdle)
		a.notifyLocked(fmt.Sprintf("The video avatar session ended (%s). Press start to reconnect.", reason))
	}
}

func (a *Adapter) restart(gen uint64) {
	a.mu.Lock()
	stale := gen != a.gen || a.closed
	a.mu.Unlock()
	if stale {
		return
	}
	log.Printf("liveavatar: reconnecting")
	_ = a.connect()
}

func (a *Adapter) failLocked(msg string) {
	a.setStatusLocked(agent.StatusError)
	a.notifyLocked(msg)
}

func (a *Adapter) startHeartbeatLocked() {
	if a.stopBeat != nil || a.sess == nil {
		return
	}
	stop := make(chan struct{})
	a.stopBeat = stop
	go a.beat(a.sess, stop)
}

func (a *Adapter) stopHeartbeatLocked() {
	if a.stopBeat != nil {
		close(a.stopBeat)
		a.stopBeat = nil
	}
}

func (a *Adapter) beat(sess SDKSession, stop chan struct{}) {
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), keepAliveTimeout)
			err := sess.KeepAlive(ctx)
			cancel()
			if err != nil {
				log.Printf("liveavatar: keep-alive failed: %v", err)
				a.mu.Lock()
				if a.stopBeat == stop {
					a.stopHeartbeatLocked()
				}
				a.mu.Unlock()
				return
			}
		}
	}
}

// UserGesture records that the user interacted with the page, which allows
// the stream to start playing with sound.
func (a *Adapter) UserGesture() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gesture = true
	if a.streamURL != "" {
		a.playLocked()
	}
}

func (a *Adapter) playLocked() {
	if a.playing || a.sink == nil {
		return
	}
	if err := a.sink.Play(); err != nil {
		log.Printf("liveavatar: play: %v", err)
		a.notifyLocked("Tap the video to enable sound.")
		return
	}
	a.playing = true
}

// Status returns the mirrored provider state.
func (a *Adapter) Status() agent.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Say implements agent.Output by having the avatar speak text. While the
// provider session is still connecting, Say waits for it up to ConnectWait.
func (a *Adapter) Say(ctx context.Context, text string) (agent.Utterance, error) {
	a.mu.Lock()
	if err := a.awaitConnectedLocked(ctx); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	sess := a.sess
	if a.speaking != nil {
		a.speaking.finish(nil)
	}
	u := &utterance{sess: sess, done: make(chan struct{})}
	a.speaking = u
	a.mu.Unlock()

	if err := sess.Speak(ctx, text); err != nil {
		a.mu.Lock()
		if a.speaking == u {
			a.speaking = nil
		}
		a.mu.Unlock()
		u.finish(err)
		return nil, err
	}
	return u, nil
}

// awaitConnectedLocked returns with a.mu held once the session is connected.
func (a *Adapter) awaitConnectedLocked(ctx context.Context) error {
	timer := time.NewTimer(a.connectWait)
	defer timer.Stop()
	for {
		if a.closed {
			return ErrClosed
		}
		if a.sess != nil && a.status == agent.StatusConnected {
			return nil
		}
		if a.status != agent.StatusConnecting {
			return ErrNotConnected
		}
		changed := a.changed
		a.mu.Unlock()
		select {
		case <-changed:
			a.mu.Lock()
		case <-ctx.Done():
			a.mu.Lock()
			return ctx.Err()
		case <-timer.C:
			a.mu.Lock()
			return ErrNotConnected
		}
	}
}

// Close stops the current session and any pending reconnect.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.gen++
	if a.reconnect != nil {
		a.reconnect.Stop()
	}
	a.stopHeartbeatLocked()
	if a.speaking != nil {
		a.speaking.finish(ErrClosed)
		a.speaking = nil
	}
	sess := a.sess
	a.sess = nil
	if a.cancel != nil {
		a.cancel()
	}
	a.setStatusLocked(agent.StatusIdle)
	a.mu.Unlock()

	if sess != nil {
		return sess.Stop(ctx)
	}
	return nil
}

func (a *Adapter) setStatusLocked(s agent.Status) {
	if a.status == s {
		return
	}
	a.status = s
	close(a.changed)
	a.changed = make(chan struct{})
	if a.listener != nil {
		a.listener.OnStatus(s)
	}
}

func (a *Adapter) notifyLocked(msg string) {
	if a.listener != nil {
		a.listener.OnNotice(msg)
	}
}

// utterance is one avatar speak task. The stream carries the audio, so there
// is no tap to analyze.
type utterance struct {
	sess SDKSession
	done chan struct{}
	once sync.Once
	err  error
}

func (u *utterance) finish(err error) {
	u.once.Do(func() {
		u.err = err
		close(u.done)
	})
}

func (u *utterance) Tap() *level.Tap       { return nil }
func (u *utterance) Done() <-chan struct{} { return u.done }

func (u *utterance) Err() error {
	<-u.done
	return u.err
}

func (u *utterance) Stop() {
	select {
	case <-u.done:
		return
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), keepAliveTimeout)
	defer cancel()
	if err := u.sess.Interrupt(ctx); err != nil {
		log.Printf("liveavatar: interrupt: %v", err)
	}
	u.finish(nil)
}

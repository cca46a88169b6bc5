package liveavatar

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ken2274132-hash/Fluently-sub000/internal/agent"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

type fakeSDK struct {
	events     chan Event
	keepAlives atomic.Int32
	keepFails  atomic.Bool
	spoken     []string
	interrupts atomic.Int32
	mu         sync.Mutex
}

func newFakeSDK() *fakeSDK { return &fakeSDK{events: make(chan Event, 16)} }

func (f *fakeSDK) Start(ctx context.Context) error { return nil }
func (f *fakeSDK) Stop(ctx context.Context) error  { return nil }
func (f *fakeSDK) KeepAlive(ctx context.Context) error {
	f.keepAlives.Add(1)
	if f.keepFails.Load() {
		return errors.New("gone")
	}
	return nil
}
func (f *fakeSDK) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
	return nil
}
func (f *fakeSDK) Interrupt(ctx context.Context) error { f.interrupts.Add(1); return nil }
func (f *fakeSDK) Events() <-chan Event                { return f.events }

type fakeTokens struct {
	calls atomic.Int32
	err   error
}

func (f *fakeTokens) LiveAvatarToken(ctx context.Context) (speech.AvatarToken, error) {
	f.calls.Add(1)
	if f.err != nil {
		return speech.AvatarToken{}, f.err
	}
	return speech.AvatarToken{SessionID: "s", Token: "t"}, nil
}

type fakeSink struct {
	attached string
	plays    int
}

func (s *fakeSink) Attach(url string) error { s.attached = url; return nil }
func (s *fakeSink) Play() error             { s.plays++; return nil }

type recListener struct {
	mu      sync.Mutex
	states  []agent.Status
	notices []string
}

func (l *recListener) OnStatus(s agent.Status) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}
func (l *recListener) OnNotice(n string) {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
}
func (l *recListener) noticeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.notices)
}

type harness struct {
	adapter  *Adapter
	tokens   *fakeTokens
	sink     *fakeSink
	listener *recListener
	mu       sync.Mutex
	sessions []*fakeSDK
}

func newHarness(t *testing.T, heartbeat time.Duration) *harness {
	h := &harness{tokens: &fakeTokens{}, sink: &fakeSink{}, listener: &recListener{}}
	h.adapter = NewAdapter(h.tokens, func(speech.AvatarToken) (SDKSession, error) {
		s := newFakeSDK()
		h.mu.Lock()
		h.sessions = append(h.sessions, s)
		h.mu.Unlock()
		return s, nil
	}, Options{
		ReconnectDelay:    20 * time.Millisecond,
		HeartbeatInterval: heartbeat,
		Sink:              h.sink,
		Listener:          h.listener,
	})
	t.Cleanup(func() { _ = h.adapter.Close(context.Background()) })
	return h
}

func (h *harness) session(i int) *fakeSDK {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.sessions) {
		return nil
	}
	return h.sessions[i]
}

func (h *harness) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func connected(t *testing.T, h *harness) *fakeSDK {
	require.NoError(t, h.adapter.Connect(context.Background()))
	s := h.session(0)
	s.events <- Event{Type: EventStateChanged, State: StateConnected}
	require.Eventually(t, func() bool { return h.adapter.Status() == agent.StatusConnected }, time.Second, time.Millisecond)
	return s
}

func TestAdapter_MirrorsState(t *testing.T) {
	h := newHarness(t, time.Hour)
	s := connected(t, h)
	s.events <- Event{Type: EventStateChanged, State: StateDisconnected}
	require.Eventually(t, func() bool { return h.adapter.Status() == agent.StatusIdle }, time.Second, time.Millisecond)
}

func TestAdapter_NetworkErrorReconnects(t *testing.T) {
	h := newHarness(t, time.Hour)
	s := connected(t, h)
	s.events <- Event{Type: EventDisconnected, Reason: ReasonNetworkError}
	require.Eventually(t, func() bool { return h.adapter.Status() == agent.StatusConnecting }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.sessionCount() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), h.tokens.calls.Load())
	assert.Zero(t, h.listener.noticeCount())
}

func TestAdapter_ReconnectWaitsForDelay(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.adapter.reconnectDelay = 200 * time.Millisecond
	s := connected(t, h)
	s.events <- Event{Type: EventDisconnected, Reason: ReasonServerError}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.sessionCount())
	require.Eventually(t, func() bool { return h.sessionCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAdapter_CreditsExhaustedIsFatal(t *testing.T) {
	h := newHarness(t, time.Hour)
	s := connected(t, h)
	s.events <- Event{Type: EventDisconnected, Reason: "INSUFFICIENT_CREDITS"}
	require.Eventually(t, func() bool { return h.adapter.Status() == agent.StatusError }, time.Second, time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, h.sessionCount())
	h.listener.mu.Lock()
	defer h.listener.mu.Unlock()
	assert.Equal(t, []string{CreditsExhaustedMessage}, h.listener.notices)
}

func TestAdapter_CreditsOnStart(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.tokens.err = errors.New("402: no credits remaining")
	require.Error(t, h.adapter.Connect(context.Background()))
	assert.Equal(t, agent.StatusError, h.adapter.Status())
}

func TestAdapter_OtherReasonGoesIdleWithNotice(t *testing.T) {
	h := newHarness(t, time.Hour)
	s := connected(t, h)
	s.events <- Event{Type: EventDisconnected, Reason: "SESSION_EXPIRED"}
	require.Eventually(t, func() bool { return h.adapter.Status() == agent.StatusIdle }, time.Second, time.Millisecond)
	assert.Equal(t, 1, h.listener.noticeCount())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, h.sessionCount())
}

func TestAdapter_HeartbeatAndClearOnFailure(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	s := connected(t, h)
	require.Eventually(t, func() bool { return s.keepAlives.Load() >= 2 }, time.Second, time.Millisecond)

	s.keepFails.Store(true)
	n := s.keepAlives.Load()
	require.Eventually(t, func() bool {
		h.adapter.mu.Lock()
		defer h.adapter.mu.Unlock()
		return h.adapter.stopBeat == nil
	}, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, s.keepAlives.Load(), n+1)
}

func TestAdapter_HeartbeatClearedOnDisconnect(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	s := connected(t, h)
	s.events <- Event{Type: EventDisconnected, Reason: "SESSION_EXPIRED"}
	require.Eventually(t, func() bool { return h.adapter.Status() == agent.StatusIdle }, time.Second, time.Millisecond)
	n := s.keepAlives.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, s.keepAlives.Load(), n+1)
}

func TestAdapter_PlaysOnlyAfterGesture(t *testing.T) {
	h := newHarness(t, time.Hour)
	s := connected(t, h)
	s.events <- Event{Type: EventStreamReady, StreamURL: "wss://stream"}
	require.Eventually(t, func() bool {
		h.adapter.mu.Lock()
		defer h.adapter.mu.Unlock()
		return h.sink.attached == "wss://stream"
	}, time.Second, time.Millisecond)
	h.adapter.mu.Lock()
	assert.Zero(t, h.sink.plays)
	h.adapter.mu.Unlock()

	h.adapter.UserGesture()
	h.adapter.UserGesture()
	h.adapter.mu.Lock()
	defer h.adapter.mu.Unlock()
	assert.Equal(t, 1, h.sink.plays)
}

func TestAdapter_SayCompletesOnSpeakEnded(t *testing.T) {
	h := newHarness(t, time.Hour)
	s := connected(t, h)
	u, err := h.adapter.Say(context.Background(), "Hello there.")
	require.NoError(t, err)
	assert.Nil(t, u.Tap())
	s.events <- Event{Type: EventSpeakStarted}
	s.events <- Event{Type: EventSpeakEnded}
	select {
	case <-u.Done():
	case <-time.After(time.Second):
		t.Fatal("utterance never finished")
	}
	assert.NoError(t, u.Err())
	assert.Equal(t, []string{"Hello there."}, s.spoken)
}

func TestAdapter_StopInterrupts(t *testing.T) {
	h := newHarness(t, time.Hour)
	s := connected(t, h)
	u, err := h.adapter.Say(context.Background(), "A long answer.")
	require.NoError(t, err)
	u.Stop()
	<-u.Done()
	assert.Equal(t, int32(1), s.interrupts.Load())
}

func TestAdapter_SayWhenDisconnected(t *testing.T) {
	h := newHarness(t, time.Hour)
	_, err := h.adapter.Say(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestAdapter_SayWaitsForConnecting(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.adapter.Connect(context.Background()))
	require.Equal(t, agent.StatusConnecting, h.adapter.Status())

	type result struct {
		u   agent.Utterance
		err error
	}
	done := make(chan result, 1)
	go func() {
		u, err := h.adapter.Say(context.Background(), "Hi, I'm your partner.")
		done <- result{u, err}
	}()
	time.Sleep(20 * time.Millisecond)
	s := h.session(0)
	s.events <- Event{Type: EventStateChanged, State: StateConnected}

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.NotNil(t, r.u)
	case <-time.After(time.Second):
		t.Fatal("Say did not return after the session connected")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []string{"Hi, I'm your partner."}, s.spoken)
}

func TestAdapter_SayConnectWaitExpires(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.adapter.connectWait = 30 * time.Millisecond
	require.NoError(t, h.adapter.Connect(context.Background()))
	_, err := h.adapter.Say(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.adapter.connectWait = time.Hour
	_, err = h.adapter.Say(ctx, "hi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdapter_CloseCancelsReconnect(t *testing.T) {
	h := newHarness(t, time.Hour)
	s := connected(t, h)
	s.events <- Event{Type: EventDisconnected, Reason: ReasonUnknown}
	require.Eventually(t, func() bool { return h.adapter.Status() == agent.StatusConnecting }, time.Second, time.Millisecond)
	require.NoError(t, h.adapter.Close(context.Background()))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, h.sessionCount())
	assert.Equal(t, agent.StatusIdle, h.adapter.Status())
}

func TestRecoverable(t *testing.T) {
	for _, r := range []string{ReasonClientInitiated, ReasonUnknown, ReasonServerError, ReasonNetworkError} {
		assert.True(t, Recoverable(r), r)
	}
	assert.False(t, Recoverable("SESSION_EXPIRED"))
	assert.True(t, CreditsExhausted("Insufficient Credits"))
	assert.False(t, CreditsExhausted(ReasonNetworkError))
}

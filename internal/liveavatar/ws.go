package liveavatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

// command is an outbound control message on the provider socket.
type command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const (
	cmdStart     = "session.start"
	cmdStop      = "session.stop"
	cmdKeepAlive = "session.keep_alive"
	cmdSpeak     = "avatar.speak_text"
	cmdInterrupt = "avatar.interrupt"
)

// WSSession speaks the provider's event protocol over a websocket.
type WSSession struct {
	url    string
	token  string
	dialer *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn
	events  chan Event

	mu      sync.Mutex
	stopped bool
}

// NewWSSession returns a Factory that dials tok.URL, or defaultURL when the
// token carries none.
func NewWSSession(defaultURL string) Factory {
	return func(tok speech.AvatarToken) (SDKSession, error) {
		url := tok.URL
		if url == "" {
			url = defaultURL
		}
		if url == "" {
			return nil, errors.New("liveavatar: no session url")
		}
		return &WSSession{
			url:    url,
			token:  tok.Token,
			dialer: websocket.DefaultDialer,
			events: make(chan Event, 32),
		}, nil
	}
}

func (s *WSSession) Start(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)
	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("liveavatar: dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("liveavatar: dial: %w", err)
	}
	s.conn = conn
	go s.readLoop()
	return s.send(command{Type: cmdStart})
}

func (s *WSSession) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if !stopped {
				log.Printf("liveavatar: read: %v", err)
				s.events <- Event{Type: EventDisconnected, Reason: ReasonNetworkError}
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("liveavatar: bad event: %v", err)
			continue
		}
		s.events <- ev
		if ev.Type == EventDisconnected {
			return
		}
	}
}

func (s *WSSession) send(c command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteJSON(c)
}

func (s *WSSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	_ = s.send(command{Type: cmdStop})
	return s.conn.Close()
}

func (s *WSSession) KeepAlive(ctx context.Context) error {
	return s.send(command{Type: cmdKeepAlive})
}

func (s *WSSession) Speak(ctx context.Context, text string) error {
	return s.send(command{Type: cmdSpeak, Text: text})
}

func (s *WSSession) Interrupt(ctx context.Context) error {
	return s.send(command{Type: cmdInterrupt})
}

func (s *WSSession) Events() <-chan Event { return s.events }

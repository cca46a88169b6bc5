// Package liveavatar adapts a streaming video avatar session to the practice
// session: it mirrors the provider's connection state, restarts transient
// disconnects and speaks assistant replies through the avatar.
package liveavatar

import (
	"context"
	"strings"
)

// EventType names a provider session event.
type EventType string

const (
	EventStateChanged EventType = "SESSION_STATE_CHANGED"
	EventStreamReady  EventType = "SESSION_STREAM_READY"
	EventDisconnected EventType = "SESSION_DISCONNECTED"
	EventSpeakStarted EventType = "AVATAR_SPEAK_STARTED"
	EventSpeakEnded   EventType = "AVATAR_SPEAK_ENDED"
)

// Provider session states carried by EventStateChanged.
const (
	StateConnecting   = "CONNECTING"
	StateConnected    = "CONNECTED"
	StateDisconnected = "DISCONNECTED"
)

// Disconnect reasons the provider reports that are worth an automatic restart.
const (
	ReasonClientInitiated = "CLIENT_INITIATED"
	ReasonUnknown         = "UNKNOWN_REASON"
	ReasonServerError     = "SERVER_ERROR"
	ReasonNetworkError    = "NETWORK_ERROR"
)

// CreditsExhaustedMessage is shown when the provider account has no credits left.
const CreditsExhaustedMessage = "You're out of LiveAvatar credits. Add credits to your account to continue video practice."

// Event is one message from the provider session.
type Event struct {
	Type      EventType `json:"type"`
	State     string    `json:"state,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	StreamURL string    `json:"stream_url,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
}

// SDKSession is a single provider session. Events is closed once the session
// is over and no further events will arrive.
type SDKSession interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	KeepAlive(ctx context.Context) error
	Speak(ctx context.Context, text string) error
	Interrupt(ctx context.Context) error
	Events() <-chan Event
}

// Recoverable reports whether a disconnect reason is restarted automatically.
func Recoverable(reason string) bool {
	switch reason {
	case ReasonClientInitiated, ReasonUnknown, ReasonServerError, ReasonNetworkError:
		return true
	}
	return false
}

// CreditsExhausted reports whether a reason or error text means the account
// has run out of credits. The provider has no dedicated code for this.
func CreditsExhausted(text string) bool {
	return strings.Contains(strings.ToLower(text), "credit")
}

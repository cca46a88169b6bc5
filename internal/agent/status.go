package agent

// Status is the single live state of a conversational session.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusSpeaking
	StatusListening
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusSpeaking:
		return "speaking"
	case StatusListening:
		return "listening"
	case StatusError:
		return "error"
	}
	return "unknown"
}

var transitions = map[Status][]Status{
	StatusIdle:       {StatusConnecting},
	StatusConnecting: {StatusConnected, StatusSpeaking, StatusError},
	StatusConnected:  {StatusListening, StatusConnecting},
	StatusListening:  {StatusConnecting},
	StatusSpeaking:   {StatusConnected},
	StatusError:      {StatusConnecting, StatusConnected},
}

// Next lists the states reachable from s, not counting teardown to idle.
func Next(s Status) []Status { return append([]Status(nil), transitions[s]...) }

// CanTransition reports whether from -> to is a legal move. Ending a session
// returns to idle from anywhere.
func CanTransition(from, to Status) bool {
	if to == StatusIdle {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

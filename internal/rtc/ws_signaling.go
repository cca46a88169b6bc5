package rtc

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// signalMessage is the websocket signaling frame.
// Types: "auth", "offer", "answer", "candidate", "ice-complete", "bye", "error".
type signalMessage struct {
	Type     string `json:"type"`
	Password string `json:"password,omitempty"`
	Mode     string `json:"mode,omitempty"`
	SDP      string `json:"sdp,omitempty"`
	Error    string `json:"error,omitempty"`

	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(m signalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteJSON(m)
}

func (c *wsConn) fail(err error) {
	_ = c.send(signalMessage{Type: "error", Error: err.Error()})
}

// ServeWebSocket performs offer/answer with trickle ICE. When password is set
// the request must carry it (see Authorized) or the first frame must be an
// auth message.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request, password string) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	conn := &wsConn{Conn: raw}
	defer func() { _ = conn.Close() }()

	if password != "" && !Authorized(r, password) {
		var m signalMessage
		if err := conn.ReadJSON(&m); err != nil || strings.ToLower(m.Type) != "auth" || m.Password != password {
			conn.fail(errors.New("unauthorized"))
			return
		}
	}

	var offer signalMessage
	for {
		if err := conn.ReadJSON(&offer); err != nil {
			log.Printf("ws read error before offer: %v", err)
			return
		}
		switch strings.ToLower(offer.Type) {
		case "offer":
		case "bye":
			return
		default:
			continue
		}
		if offer.SDP != "" {
			break
		}
	}
	mode, err := parseMode(offer.Mode)
	if err != nil {
		conn.fail(err)
		return
	}

	pc, outTrack, err := h.newPeer()
	if err != nil {
		conn.fail(err)
		return
	}
	defer func() { _ = pc.Close() }()
	callID := uuid.NewString()
	c, err := h.attach(callID, mode, pc, outTrack)
	if err != nil {
		conn.fail(err)
		return
	}
	defer c.close()

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			_ = conn.send(signalMessage{Type: "ice-complete"})
			return
		}
		init := cand.ToJSON()
		_ = conn.send(signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		conn.fail(err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		conn.fail(err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		conn.fail(err)
		return
	}
	if err := conn.send(signalMessage{Type: "answer", SDP: answer.SDP, Mode: mode}); err != nil {
		log.Printf("[%s] ws write answer error: %v", callID, err)
		return
	}

	// The socket stays open for remote candidates until bye or disconnect.
	for {
		var m signalMessage
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		switch strings.ToLower(m.Type) {
		case "candidate":
			if m.Candidate == "" {
				continue
			}
			if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}); err != nil {
				log.Printf("[%s] add candidate: %v", callID, err)
			}
		case "bye":
			return
		}
	}
}

// Authorized accepts ?password=, an "Authorization: Bearer" header or
// X-Auth-Token. An empty expected password accepts everything.
func Authorized(r *http.Request, password string) bool {
	if password == "" {
		return true
	}
	if r == nil {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if len(ah) > len("bearer ") && strings.EqualFold(ah[:len("bearer ")], "bearer ") {
		if strings.TrimSpace(ah[len("bearer "):]) == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}

// Package rtc hosts practice sessions on the server for browsers connected
// over WebRTC. Microphone audio arrives on an Opus track, replies leave on
// another, and a "control" data channel carries commands and session events.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/ken2274132-hash/Fluently-sub000/internal/agent"
	"github.com/ken2274132-hash/Fluently-sub000/internal/animator"
	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
	"github.com/ken2274132-hash/Fluently-sub000/internal/level"
	"github.com/ken2274132-hash/Fluently-sub000/internal/metrics"
	"github.com/ken2274132-hash/Fluently-sub000/internal/pipeline"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

const (
	ModeVoice  = "voice"
	ModeAvatar = "avatar"

	controlLabel = "control"
	poseInterval = time.Second / 30
)

// ErrInvalidOffer is returned for a malformed SDP offer.
var ErrInvalidOffer = errors.New("invalid offer")

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
	// Mode selects the presentation: voice (default) or avatar, which adds pose frames.
	Mode string `json:"mode,omitempty"`
}

// Pipeline is what a hosted session needs from the speech pipeline.
type Pipeline interface {
	agent.Pipeline
	agent.Synthesizer
}

// Options configures a Handler.
type Options struct {
	Pipeline       Pipeline
	Archiver       *pipeline.Archiver
	Greeting       string
	ICEServersJSON string
}

// Handler accepts offers and runs one agent.Session per peer connection.
type Handler struct {
	pipeline   Pipeline
	archiver   *pipeline.Archiver
	greeting   string
	iceServers []webrtc.ICEServer
}

func NewHandler(opts Options) *Handler {
	return &Handler{
		pipeline:   opts.Pipeline,
		archiver:   opts.Archiver,
		greeting:   opts.Greeting,
		iceServers: ParseICEServers(opts.ICEServersJSON),
	}
}

// HandleOffer accepts an SDP offer and returns an SDP answer once ICE
// gathering has completed.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, ErrInvalidOffer
	}
	mode, err := parseMode(offer.Mode)
	if err != nil {
		return SessionDescription{}, err
	}
	pc, outTrack, err := h.newPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	callID := uuid.NewString()
	if _, err := h.attach(callID, mode, pc, outTrack); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	log.Printf("[%s] answered %s offer", callID, mode)
	return SessionDescription{Type: "answer", SDP: local.SDP, Mode: mode}, nil
}

func (h *Handler) newPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: h.iceServers})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: outputRate, Channels: 1},
		"agent-audio", "agent",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

// call is everything owned by one peer connection.
type call struct {
	id        string
	mode      string
	startedAt time.Time
	sess      *agent.Session
	renderer  *channelRenderer
	device    *inboundDevice
	writer    *OpusPacedWriter
	voice     *browserVoice

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	poseLoop *level.Loop
	done     func()
	closed   bool
}

func (h *Handler) attach(callID, mode string, pc *webrtc.PeerConnection, outTrack *webrtc.TrackLocalStaticSample) (*call, error) {
	writer, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &call{
		id:        callID,
		mode:      mode,
		startedAt: time.Now(),
		renderer:  &channelRenderer{callID: callID},
		device:    &inboundDevice{},
		writer:    writer,
		ctx:       ctx,
		cancel:    cancel,
		done:      metrics.SessionStarted("rtc"),
	}
	c.voice = &browserVoice{renderer: c.renderer}
	c.sess = agent.NewSession(agent.Config{
		ID:       callID,
		Pipeline: h.pipeline,
		Recorder: capture.NewRecorder(c.device.opener()),
		Output: &agent.SpeechOutput{
			Synth:      h.pipeline,
			Player:     newTrackPlayer(writer),
			Fallback:   c.voice,
			OnFallback: func(error) { metrics.RecordTTSFallback() },
		},
		Renderer: c.renderer,
		Greeting: h.greeting,
		OnEnd: func(id string, transcript []speech.Message) {
			go h.archiver.Archive(id, "rtc-"+mode, c.startedAt, transcript)
		},
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", callID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			c.close()
			_ = pc.Close()
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", callID, state.String())
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != controlLabel {
			return
		}
		log.Printf("[%s] Control channel opened", callID)
		c.renderer.attach(dc)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) { c.handle(string(msg.Data)) })
		dc.OnClose(func() { c.renderer.attach(nil) })
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] Remote audio track received: codec=%s", callID, remote.Codec().MimeType)
		dec, err := opus.NewDecoder(inboundRate, 1)
		if err != nil {
			log.Printf("[%s] Opus decoder error: %v", callID, err)
			return
		}
		go c.device.decodeLoop(callID, func() ([]byte, error) {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				return nil, err
			}
			return pkt.Payload, nil
		}, dec)
	})
	return c, nil
}

// handle applies one control channel message.
func (c *call) handle(raw string) {
	cmd := strings.ToLower(strings.TrimSpace(raw))
	switch cmd {
	case "start":
		if err := c.sess.Start(c.ctx); err != nil {
			log.Printf("[%s] session start error: %v", c.id, err)
			return
		}
		if c.mode == ModeAvatar {
			c.startPoses()
		}
	case "spoken":
		c.voice.spoken()
	default:
		command(c.sess, raw, c.renderer.OnNotice)
	}
}

// startPoses streams animator frames for the avatar page.
func (c *call) startPoses() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poseLoop != nil || c.closed {
		return
	}
	rig := animator.NewDefaultRig()
	anim := animator.New(rig)
	began := time.Now()
	c.poseLoop = level.StartLoop(poseInterval, func(now time.Time) {
		status := c.sess.Status()
		if status == agent.StatusIdle {
			return
		}
		anim.Frame(animator.InputFor(status, c.sess.Level()), now.Sub(began).Seconds())
		c.renderer.OnPose(rig.Snapshot())
	})
}

func (c *call) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	loop := c.poseLoop
	c.mu.Unlock()

	loop.Stop()
	c.voice.spoken()
	c.sess.End()
	c.cancel()
	c.writer.Close()
	c.done()
}

func parseMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeVoice:
		return ModeVoice, nil
	case ModeAvatar:
		return ModeAvatar, nil
	}
	return "", ErrInvalidOffer
}

// ParseICEServers decodes a JSON list of ICE servers, falling back to a
// public STUN server.
func ParseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// Package phone runs practice conversations over a Twilio phone line. Each
// caller turn is a <Record>; the recording is transcribed, answered and read
// back with <Say>, then the line records again.
package phone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/ken2274132-hash/Fluently-sub000/internal/agent"
	"github.com/ken2274132-hash/Fluently-sub000/internal/cache"
	"github.com/ken2274132-hash/Fluently-sub000/internal/metrics"
	"github.com/ken2274132-hash/Fluently-sub000/internal/pipeline"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
	"github.com/ken2274132-hash/Fluently-sub000/internal/store"
)

const (
	// CallTTL keeps a call's history across turns; calls longer than this restart the context.
	CallTTL = 30 * time.Minute

	maxTurnSeconds = "30"
	silenceSeconds = "2"

	missedLine  = "Sorry, I didn't catch that. Could you say it again?"
	failureLine = "Sorry, I'm having trouble thinking right now. Let's try that again."
	goodbyeLine = "It was great practicing with you. Goodbye!"
)

type Config struct {
	AccountSID    string
	AuthToken     string
	PublicBaseURL string
	Greeting      string
}

// callState is the per-call history kept in the cache between webhooks.
type callState struct {
	StartedAt time.Time        `json:"started_at"`
	Messages  []speech.Message `json:"messages"`
}

type Service struct {
	cfg        Config
	pipeline   agent.Pipeline
	calls      *cache.Cache
	archiver   *pipeline.Archiver
	store      *store.Store
	httpClient *http.Client
	// startRecording asks Twilio to record the whole call; nil disables it.
	startRecording func(callSID, callbackURL string) error
}

// New builds the phone service. Full-call recordings are requested only when
// the store can keep them.
func New(cfg Config, p agent.Pipeline, backend cache.Backend, archiver *pipeline.Archiver, st *store.Store) *Service {
	if backend == nil {
		backend = cache.NewMemory()
	}
	s := &Service{
		cfg:        cfg,
		pipeline:   p,
		calls:      cache.New(backend, "call", CallTTL),
		archiver:   archiver,
		store:      st,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.AccountSID != "" && st.Enabled() {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		s.startRecording = func(callSID, callbackURL string) error {
			params := &twilioApi.CreateCallRecordingParams{}
			params.SetRecordingStatusCallback(callbackURL)
			params.SetRecordingStatusCallbackMethod("POST")
			params.SetRecordingStatusCallbackEvent([]string{"completed"})
			params.SetRecordingChannels("mono")
			if _, err := client.Api.CreateCallRecording(callSID, params); err != nil {
				return fmt.Errorf("failed to start recording: %w", err)
			}
			return nil
		}
	}
	return s
}

func (s *Service) RegisterHandlers(e *echo.Echo) {
	g := e.Group("/twilio", SignatureAuth(s.cfg.AuthToken, s.cfg.PublicBaseURL))
	g.POST("/voice", s.handleVoice)
	g.POST("/listen", s.handleListen)
	g.POST("/turn", s.handleTurn)
	g.POST("/status", s.handleStatus)
	g.POST("/recording-status", s.handleRecordingStatus)
}

func (s *Service) handleVoice(c echo.Context) error {
	p := params(c)
	callSID := p["CallSid"]
	log.Printf("[%s] call from %s", callSID, p["From"])

	state := callState{StartedAt: time.Now()}
	if s.cfg.Greeting != "" {
		state.Messages = append(state.Messages, speech.Message{Role: speech.RoleAssistant, Content: s.cfg.Greeting})
	}
	if err := s.calls.Set(c.Request().Context(), callSID, state); err != nil {
		log.Printf("[%s] save call state: %v", callSID, err)
	}
	if s.startRecording != nil {
		callback := AbsoluteURL(c.Request(), s.cfg.PublicBaseURL, "/twilio/recording-status")
		go func() {
			if err := s.startRecording(callSID, callback); err != nil {
				log.Printf("[%s] %v", callSID, err)
			}
		}()
	}

	var elems []twiml.Element
	if s.cfg.Greeting != "" {
		elems = append(elems, &twiml.VoiceSay{Message: s.cfg.Greeting})
	}
	return respond(c, append(elems, s.listen(c)...))
}

// handleListen records the next turn. Twilio falls through to it when the
// caller stays silent.
func (s *Service) handleListen(c echo.Context) error {
	return respond(c, s.listen(c))
}

func (s *Service) handleTurn(c echo.Context) error {
	p := params(c)
	callSID := p["CallSid"]
	recordingURL := p["RecordingUrl"]
	ctx := c.Request().Context()
	if recordingURL == "" {
		return respond(c, s.listen(c))
	}

	audio, err := s.download(ctx, recordingURL)
	if err != nil {
		log.Printf("[%s] download recording: %v", callSID, err)
		return respond(c, s.sayThenListen(c, missedLine))
	}
	text, err := s.pipeline.Transcribe(ctx, audio, "audio/wav")
	if err != nil {
		if !errors.Is(err, speech.ErrEmptyTranscription) {
			log.Printf("[%s] transcription failed: %v", callSID, err)
		}
		return respond(c, s.sayThenListen(c, missedLine))
	}
	log.Printf("[%s] USER: %s", callSID, text)

	var state callState
	if _, err := s.calls.Get(ctx, callSID, &state); err != nil {
		log.Printf("[%s] load call state: %v", callSID, err)
	}
	if state.StartedAt.IsZero() {
		state.StartedAt = time.Now()
	}
	history := append([]speech.Message(nil), state.Messages...)
	state.Messages = append(state.Messages, speech.Message{Role: speech.RoleUser, Content: text})

	if wantsToLeave(text) {
		state.Messages = append(state.Messages, speech.Message{Role: speech.RoleAssistant, Content: goodbyeLine})
		s.save(ctx, callSID, state)
		return respond(c, []twiml.Element{&twiml.VoiceSay{Message: goodbyeLine}, &twiml.VoiceHangup{}})
	}

	reply, err := s.pipeline.GenerateReply(ctx, text, history)
	if err != nil {
		log.Printf("[%s] reply failed: %v", callSID, err)
		s.save(ctx, callSID, state)
		return respond(c, s.sayThenListen(c, failureLine))
	}
	log.Printf("[%s] ASSISTANT: %s", callSID, reply)
	state.Messages = append(state.Messages, speech.Message{Role: speech.RoleAssistant, Content: reply})
	s.save(ctx, callSID, state)
	return respond(c, s.sayThenListen(c, reply))
}

// handleStatus archives the conversation once the call has completed.
func (s *Service) handleStatus(c echo.Context) error {
	p := params(c)
	callSID := p["CallSid"]
	if p["CallStatus"] != "completed" {
		return c.String(http.StatusOK, "OK")
	}
	var state callState
	found, err := s.calls.Get(c.Request().Context(), callSID, &state)
	if err != nil || !found {
		return c.String(http.StatusOK, "OK")
	}
	_ = s.calls.Delete(c.Request().Context(), callSID)
	log.Printf("[%s] call completed (%d messages)", callSID, len(state.Messages))
	go s.archiver.Archive(callSID, "phone", state.StartedAt, state.Messages)
	return c.String(http.StatusOK, "OK")
}

func (s *Service) handleRecordingStatus(c echo.Context) error {
	p := params(c)
	callSID := p["CallSid"]
	recordingURL := p["RecordingUrl"]
	log.Printf("[%s] recording status: %s, SID: %s", callSID, p["RecordingStatus"], p["RecordingSid"])
	if p["RecordingStatus"] != "completed" || recordingURL == "" {
		return c.String(http.StatusOK, "OK")
	}
	name := fmt.Sprintf("call_%s.wav", p["RecordingSid"])
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		audio, err := s.download(ctx, recordingURL)
		if err == nil {
			err = s.store.UploadRecording(ctx, callSID, name, audio)
		}
		if err != nil {
			log.Printf("[%s] failed to store recording: %v", callSID, err)
			return
		}
		log.Printf("[%s] recording uploaded: %s", callSID, name)
	}()
	return c.String(http.StatusOK, "OK")
}

func (s *Service) listen(c echo.Context) []twiml.Element {
	return []twiml.Element{
		&twiml.VoiceRecord{
			Action:    AbsoluteURL(c.Request(), s.cfg.PublicBaseURL, "/twilio/turn"),
			Method:    "POST",
			MaxLength: maxTurnSeconds,
			Timeout:   silenceSeconds,
			PlayBeep:  "false",
			Trim:      "trim-silence",
		},
		&twiml.VoiceRedirect{Url: AbsoluteURL(c.Request(), s.cfg.PublicBaseURL, "/twilio/listen"), Method: "POST"},
	}
}

func (s *Service) sayThenListen(c echo.Context, line string) []twiml.Element {
	return append([]twiml.Element{&twiml.VoiceSay{Message: line}}, s.listen(c)...)
}

func (s *Service) save(ctx context.Context, callSID string, state callState) {
	if err := s.calls.Set(ctx, callSID, state); err != nil {
		log.Printf("[%s] save call state: %v", callSID, err)
	}
}

// download fetches a recording as WAV using the account credentials.
func (s *Service) download(ctx context.Context, recordingURL string) ([]byte, error) {
	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL+".wav", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.ObservePipeline("recording-download", started, err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("download recording failed: status %d", resp.StatusCode)
		metrics.ObservePipeline("recording-download", started, err)
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	metrics.ObservePipeline("recording-download", started, err)
	return data, err
}

func respond(c echo.Context, elems []twiml.Element) error {
	doc, err := twiml.Voice(elems)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, doc)
}

func wantsToLeave(text string) bool {
	t := strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!?"))
	switch t {
	case "bye", "goodbye", "bye bye", "see you", "i have to go", "hang up":
		return true
	}
	return false
}

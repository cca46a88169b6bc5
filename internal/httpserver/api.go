package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
	"github.com/ken2274132-hash/Fluently-sub000/internal/metrics"
	"github.com/ken2274132-hash/Fluently-sub000/internal/pipeline"
	"github.com/ken2274132-hash/Fluently-sub000/internal/rtc"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

type errorResponse struct {
	Error string `json:"error"`
}

func fail(c echo.Context, code int, msg string) error {
	return c.JSON(code, errorResponse{Error: msg})
}

// failStep maps a pipeline error to a status: 503 for an unconfigured
// provider, 502 for an upstream failure.
func failStep(c echo.Context, step string, err error) error {
	c.Echo().Logger.Errorf("%s failed: %v", step, err)
	if errors.Is(err, pipeline.ErrNotConfigured) {
		return fail(c, http.StatusServiceUnavailable, step+" provider not configured")
	}
	return fail(c, http.StatusBadGateway, err.Error())
}

func (s *Server) transcribe(c echo.Context) error {
	if s.deps.Pipeline == nil {
		return fail(c, http.StatusServiceUnavailable, "stt provider not configured")
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		return fail(c, http.StatusBadRequest, "missing audio file")
	}
	f, err := fh.Open()
	if err != nil {
		return fail(c, http.StatusBadRequest, "unreadable audio file")
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil || len(audio) == 0 {
		return fail(c, http.StatusBadRequest, "empty audio file")
	}
	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = capture.ContentTypeWAV
	}

	text, err := s.deps.Pipeline.Transcribe(c.Request().Context(), audio, contentType)
	if errors.Is(err, speech.ErrEmptyTranscription) {
		return c.JSON(http.StatusOK, speech.TranscriptionResponse{Text: ""})
	}
	if err != nil {
		return failStep(c, speech.StepTranscribe, err)
	}
	return c.JSON(http.StatusOK, speech.TranscriptionResponse{Text: text})
}

func (s *Server) chat(c echo.Context) error {
	var req speech.ChatRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return fail(c, http.StatusBadRequest, "message is required")
	}
	if s.deps.Pipeline == nil {
		return fail(c, http.StatusServiceUnavailable, "chat provider not configured")
	}
	reply, err := s.deps.Pipeline.GenerateReply(c.Request().Context(), req.Message, req.History)
	if err != nil {
		return failStep(c, speech.StepChat, err)
	}
	return c.JSON(http.StatusOK, speech.ChatResponse{Response: reply})
}

// synthesize answers with a WAV clip. Any non-OK answer tells the client to
// use its local voice instead.
func (s *Server) synthesize(c echo.Context) error {
	var req speech.SynthesisRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return fail(c, http.StatusBadRequest, "text is required")
	}
	if s.deps.Pipeline == nil {
		return fail(c, http.StatusServiceUnavailable, "tts provider not configured")
	}
	audio, err := s.deps.Pipeline.Synthesize(c.Request().Context(), req.Text)
	if err != nil {
		metrics.RecordTTSFallback()
		return failStep(c, speech.StepSynthesize, err)
	}
	return c.Blob(http.StatusOK, capture.ContentTypeWAV, audio)
}

// grammarCheck always answers 200; failures degrade to a pass-through result.
func (s *Server) grammarCheck(c echo.Context) error {
	var req speech.GrammarRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, s.deps.Grammar.Check(c.Request().Context(), req.Text))
}

func (s *Server) avatarToken(c echo.Context) error {
	if s.deps.Avatar == nil {
		return fail(c, http.StatusServiceUnavailable, "live avatar not configured")
	}
	tok, err := s.deps.Avatar.LiveAvatarToken(c.Request().Context())
	metrics.RecordAvatarToken(err)
	if err != nil {
		return failStep(c, speech.StepAvatar, err)
	}
	return c.JSON(http.StatusOK, tok)
}

func (s *Server) rtcOffer(c echo.Context) error {
	if s.deps.RTC == nil {
		return fail(c, http.StatusServiceUnavailable, "webrtc sessions disabled")
	}
	if !rtc.Authorized(c.Request(), s.deps.RTCPassword) {
		return fail(c, http.StatusUnauthorized, "unauthorized")
	}
	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		return fail(c, http.StatusBadRequest, "invalid offer")
	}
	answer, err := s.deps.RTC.HandleOffer(c.Request().Context(), offer)
	if errors.Is(err, rtc.ErrInvalidOffer) {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	if err != nil {
		c.Echo().Logger.Errorf("webrtc handle offer failed: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to handle offer")
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) rtcSocket(c echo.Context) error {
	if s.deps.RTC == nil {
		return fail(c, http.StatusServiceUnavailable, "webrtc sessions disabled")
	}
	s.deps.RTC.ServeWebSocket(c.Response(), c.Request(), s.deps.RTCPassword)
	return nil
}

// Package httpserver serves the speech pipeline API, WebRTC signaling, phone
// webhooks, health and metrics.
package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ken2274132-hash/Fluently-sub000/internal/grammar"
	"github.com/ken2274132-hash/Fluently-sub000/internal/metrics"
	"github.com/ken2274132-hash/Fluently-sub000/internal/phone"
	"github.com/ken2274132-hash/Fluently-sub000/internal/rtc"
	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

// AvatarTokens issues live avatar session tokens.
type AvatarTokens interface {
	LiveAvatarToken(ctx context.Context) (speech.AvatarToken, error)
}

// Deps are the services behind the routes. Nil optional services disable
// their routes: API calls answer 503, phone routes are not registered.
type Deps struct {
	Pipeline    rtc.Pipeline
	Grammar     *grammar.Service
	Avatar      AvatarTokens
	RTC         *rtc.Handler
	RTCPassword string
	Phone       *phone.Service
}

// Server bundles HTTP router and dependencies.
type Server struct {
	Router *echo.Echo
	deps   Deps
}

// New constructs the HTTP server with routes.
func New(deps Deps) *Server {
	if deps.Grammar == nil {
		deps.Grammar = grammar.NewService(nil, nil)
	}
	s := &Server{Router: newRouter(), deps: deps}
	e := s.Router

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api")
	api.POST("/stt", s.transcribe)
	api.POST("/chat", s.chat)
	api.POST("/tts", s.synthesize)
	api.POST("/grammar-check", s.grammarCheck)
	api.POST("/liveavatar-token", s.avatarToken)
	api.POST("/rtc/offer", s.rtcOffer)
	api.GET("/rtc/ws", s.rtcSocket)

	if deps.Phone != nil {
		deps.Phone.RegisterHandlers(e)
	}
	return s
}

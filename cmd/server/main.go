package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ken2274132-hash/Fluently-sub000/internal/cache"
	"github.com/ken2274132-hash/Fluently-sub000/internal/config"
	"github.com/ken2274132-hash/Fluently-sub000/internal/grammar"
	"github.com/ken2274132-hash/Fluently-sub000/internal/httpserver"
	"github.com/ken2274132-hash/Fluently-sub000/internal/liveavatar"
	"github.com/ken2274132-hash/Fluently-sub000/internal/llm"
	"github.com/ken2274132-hash/Fluently-sub000/internal/phone"
	"github.com/ken2274132-hash/Fluently-sub000/internal/pipeline"
	"github.com/ken2274132-hash/Fluently-sub000/internal/rtc"
	"github.com/ken2274132-hash/Fluently-sub000/internal/store"
	"github.com/ken2274132-hash/Fluently-sub000/internal/transcript"
	"github.com/ken2274132-hash/Fluently-sub000/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	backend, closeBackend := cacheBackend(cfg.RedisURL)
	defer closeBackend()

	st, err := store.New(store.Config{URL: cfg.SupabaseURL, ServiceRoleKey: cfg.SupabaseKey, Bucket: cfg.SupabaseBucket})
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	var checker grammar.Checker
	local := &pipeline.Local{STT: transcriber(cfg), TTS: synthesizer(cfg)}
	if cfg.CerebrasKey != "" {
		chat := llm.NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID)
		local.Chat = chat
		checker = chat
	}
	grammarSvc := grammar.NewService(checker, backend)
	archiver := &pipeline.Archiver{Grammar: grammarSvc, Store: st}

	deps := httpserver.Deps{
		Pipeline: local,
		Grammar:  grammarSvc,
		RTC: rtc.NewHandler(rtc.Options{
			Pipeline:       local,
			Archiver:       archiver,
			Greeting:       cfg.Greeting,
			ICEServersJSON: cfg.ICEServersJSON,
		}),
		RTCPassword: cfg.RTCPassword,
	}
	if cfg.LiveAvatarKey != "" {
		tokens := liveavatar.NewTokenClient(cfg.LiveAvatarKey, cfg.LiveAvatarID)
		if cfg.LiveAvatarURL != "" {
			tokens.BaseURL = cfg.LiveAvatarURL
		}
		deps.Avatar = tokens
	}
	if cfg.TwilioAuthToken != "" {
		deps.Phone = phone.New(phone.Config{
			AccountSID:    cfg.TwilioAccountSID,
			AuthToken:     cfg.TwilioAuthToken,
			PublicBaseURL: cfg.PublicBaseURL,
			Greeting:      cfg.Greeting,
		}, local, backend, archiver, st)
	}

	srv := httpserver.New(deps)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

// transcriber picks the speech-to-text provider. A nil result makes /api/stt answer 503.
func transcriber(cfg config.Config) transcript.Transcriber {
	switch cfg.STTProvider {
	case config.STTWhisper:
		if cfg.WhisperKey == "" && cfg.WhisperBaseURL == "" {
			return nil
		}
		return transcript.NewWhisperClient(cfg.WhisperKey, cfg.WhisperBaseURL, cfg.WhisperModel)
	default:
		if cfg.AssemblyAIKey == "" {
			return nil
		}
		return transcript.NewAssemblyAIClient(cfg.AssemblyAIKey)
	}
}

// synthesizer picks the text-to-speech provider. Without one, clients use their local voice.
func synthesizer(cfg config.Config) tts.Synthesizer {
	switch cfg.TTSProvider {
	case config.TTSDeepgram:
		if cfg.DeepgramKey == "" {
			return nil
		}
		return tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel)
	default:
		if cfg.ElevenLabsKey == "" || cfg.ElevenLabsVoiceID == "" {
			return nil
		}
		return tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	}
}

// cacheBackend uses Redis when configured and reachable, memory otherwise.
func cacheBackend(redisURL string) (cache.Backend, func()) {
	if redisURL == "" {
		return cache.NewMemory(), func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := cache.DialRedis(ctx, redisURL)
	if err != nil {
		log.Printf("Warning: redis unavailable, using in-memory cache: %v", err)
		return cache.NewMemory(), func() {}
	}
	log.Printf("cache: redis connected")
	return r, func() { _ = r.Close() }
}

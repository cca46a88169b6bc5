package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
)

func TestDeepgram_NoKey(t *testing.T) {
	d := NewDeepgramClient("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := d.Synthesize(ctx, "hello"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestElevenLabs_NoKey(t *testing.T) {
	if _, err := NewElevenLabsClient("", "voice").Synthesize(context.Background(), "hi"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestElevenLabs_ReturnsWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" || !strings.HasSuffix(r.URL.Path, "/v1/text-to-speech/voice") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("output_format") != "pcm_24000" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte{1, 0, 2, 0, 3})
	}))
	defer srv.Close()

	e := NewElevenLabsClient("key", "voice")
	e.BaseURL = srv.URL
	wav, err := e.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	pcm, format, err := capture.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if format.SampleRate != SampleRate || format.Channels != 1 || len(pcm) != 4 {
		t.Fatalf("format=%+v len=%d", format, len(pcm))
	}
}

func TestElevenLabs_HTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("quota"))
	}))
	defer srv.Close()
	e := NewElevenLabsClient("key", "voice")
	e.BaseURL = srv.URL
	if _, err := e.Synthesize(context.Background(), "hi"); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

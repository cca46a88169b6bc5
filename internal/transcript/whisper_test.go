package transcript

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, fh, err := r.FormFile("file")
		if err != nil || fh.Filename != "audio.webm" || r.FormValue("model") != "whisper-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"text":"  I want to practice.  "}`))
	}))
	defer srv.Close()

	c := NewWhisperClient("key", srv.URL, "")
	got, err := c.Transcribe(context.Background(), []byte("audio"), "audio/webm;codecs=opus")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "I want to practice." {
		t.Fatalf("got %q", got)
	}
}

func TestWhisperTranscribeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewWhisperClient("key", srv.URL, "")
	if _, err := c.Transcribe(context.Background(), nil, "audio/wav"); err == nil {
		t.Fatal("expected error for empty audio")
	}
	_, err := c.Transcribe(context.Background(), []byte("audio"), "audio/wav")
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"audio/wav":                ".wav",
		"audio/webm;codecs=opus":   ".webm",
		"audio/ogg":                ".ogg",
		"audio/mpeg":               ".mp3",
		"audio/mp4":                ".m4a",
		"application/octet-stream": ".wav",
	}
	for ct, want := range cases {
		if got := extensionFor(ct); got != want {
			t.Fatalf("extensionFor(%q) = %q, want %q", ct, got, want)
		}
	}
}

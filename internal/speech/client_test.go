package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL + "/")
	c.HTTPClient = &http.Client{Timeout: time.Second}
	return c
}

func TestTranscribe_UploadsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stt" {
			t.Errorf("path %s", r.URL.Path)
		}
		f, hdr, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		b, _ := io.ReadAll(f)
		if string(b) != "RIFF" || hdr.Header.Get("Content-Type") != "audio/wav" {
			t.Errorf("unexpected upload %q %q", b, hdr.Header.Get("Content-Type"))
		}
		_ = json.NewEncoder(w).Encode(TranscriptionResponse{Text: "  I want to practice for a job interview.  "})
	})
	text, err := c.Transcribe(context.Background(), []byte("RIFF"), "audio/wav")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "I want to practice for a job interview." {
		t.Fatalf("got %q", text)
	}
}

func TestTranscribe_EmptyText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"   "}`))
	})
	if _, err := c.Transcribe(context.Background(), []byte("x"), ""); !errors.Is(err, ErrEmptyTranscription) {
		t.Fatalf("expected ErrEmptyTranscription, got %v", err)
	}
}

func TestGenerateReply_SendsTrailingHistory(t *testing.T) {
	var got ChatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"response":"Great, let's start."}`))
	})
	var history []Message
	for i := 0; i < 14; i++ {
		history = append(history, Message{Role: RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	reply, err := c.GenerateReply(context.Background(), "hello", history)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "Great, let's start." {
		t.Fatalf("reply %q", reply)
	}
	if len(got.History) != HistoryWindow || got.History[0].Content != "m4" || got.Message != "hello" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestGenerateReply_NonOK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})
	_, err := c.GenerateReply(context.Background(), "hi", nil)
	var rse *RemoteServiceError
	if !errors.As(err, &rse) {
		t.Fatalf("expected RemoteServiceError, got %v", err)
	}
	if rse.Step != StepChat || rse.StatusCode != http.StatusBadGateway || rse.Body != "upstream down" {
		t.Fatalf("unexpected error %+v", rse)
	}
}

func TestSynthesize_FallbackSignal(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_500", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }},
		{"empty_body", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler)
			audio, err := c.Synthesize(context.Background(), "hello")
			if !errors.Is(err, ErrSynthesisUnavailable) || audio != nil {
				t.Fatalf("expected fallback signal, got %v %v", audio, err)
			}
		})
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("WAVDATA")) })
	audio, err := c.Synthesize(context.Background(), "hello")
	if err != nil || string(audio) != "WAVDATA" {
		t.Fatalf("unexpected %q %v", audio, err)
	}
}

func TestClient_CancelledContextIsNotRemoteError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GenerateReply(ctx, "hi", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGrammarAndToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/grammar-check":
			_ = json.NewEncoder(w).Encode(PassThrough("he go"))
		case "/api/liveavatar-token":
			_, _ = w.Write([]byte(`{"session_id":"s1","session_token":"tok"}`))
		}
	})
	g, err := c.CheckGrammar(context.Background(), "he go")
	if err != nil || g.Score != 100 || g.Corrected != "he go" {
		t.Fatalf("grammar %+v %v", g, err)
	}
	tok, err := c.LiveAvatarToken(context.Background())
	if err != nil || tok.Token != "tok" || tok.SessionID != "s1" {
		t.Fatalf("token %+v %v", tok, err)
	}
}

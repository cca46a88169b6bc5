package tts

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/ken2274132-hash/Fluently-sub000/internal/capture"
)

// DeepgramClient synthesizes over the Deepgram speak websocket. Audio frames
// are collected until the stream goes quiet.
type DeepgramClient struct {
	apiKey string
	model  string

	// IdleWindow ends collection once no audio has arrived for this long.
	IdleWindow time.Duration
	// MaxDuration bounds one synthesis call.
	MaxDuration time.Duration
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{
		apiKey:      apiKey,
		model:       model,
		IdleWindow:  400 * time.Millisecond,
		MaxDuration: 12 * time.Second,
	}
}

func (d *DeepgramClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram: %w", ErrMissingCredentials)
	}
	if text == "" {
		return nil, fmt.Errorf("deepgram: empty text")
	}

	var (
		mu       sync.Mutex
		pcm      bytes.Buffer
		lastRecv atomic.Int64
	)
	cb := &speakCallback{onBinary: func(data []byte) error {
		mu.Lock()
		pcm.Write(data)
		mu.Unlock()
		lastRecv.Store(time.Now().UnixNano())
		return nil
	}}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   "linear16",
		SampleRate: SampleRate,
	}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return nil, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(d.MaxDuration)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		last := lastRecv.Load()
		if last != 0 && time.Since(time.Unix(0, last)) > d.IdleWindow {
			break
		}
		if time.Now().After(deadline) {
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if pcm.Len() < 2 {
		return nil, fmt.Errorf("deepgram: no audio received")
	}
	return capture.EncodeWAV(pcm.Bytes()[:pcm.Len()&^1], SampleRate, 1), nil
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(w *msginterfaces.WarningResponse) error {
	log.Printf("deepgram: warning: %+v", w)
	return nil
}
func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	log.Printf("deepgram: error: %+v", e)
	return nil
}
func (s *speakCallback) UnhandledEvent([]byte) error { return nil }
func (s *speakCallback) Binary(msg []byte) error {
	if s.onBinary != nil && len(msg) > 0 {
		return s.onBinary(msg)
	}
	return nil
}

package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// Client calls the /api endpoints of a practice server. Nothing is retried.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Transcribe uploads a recorded clip and returns its text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="recording.wav"`)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out TranscriptionResponse
	if err := c.do(ctx, StepTranscribe, "/api/stt", mw.FormDataContentType(), &body, &out); err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrEmptyTranscription
	}
	return text, nil
}

// GenerateReply sends message with the trailing history window.
func (c *Client) GenerateReply(ctx context.Context, message string, history []Message) (string, error) {
	req := ChatRequest{Message: message, History: TrailingHistory(history)}
	if req.History == nil {
		req.History = []Message{}
	}
	var out ChatResponse
	if err := c.postJSON(ctx, StepChat, "/api/chat", req, &out); err != nil {
		return "", err
	}
	reply := strings.TrimSpace(out.Response)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// Synthesize returns the spoken audio for text. Any failure is reported as
// ErrSynthesisUnavailable so the caller can switch to the local voice.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	buf, err := json.Marshal(SynthesisRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/tts", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status=%d", ErrSynthesisUnavailable, resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil || len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrSynthesisUnavailable)
	}
	return audio, nil
}

// CheckGrammar asks the server to review text.
func (c *Client) CheckGrammar(ctx context.Context, text string) (GrammarResult, error) {
	var out GrammarResult
	err := c.postJSON(ctx, StepGrammar, "/api/grammar-check", GrammarRequest{Text: text}, &out)
	return out, err
}

// LiveAvatarToken requests a streaming avatar session token.
func (c *Client) LiveAvatarToken(ctx context.Context) (AvatarToken, error) {
	var out AvatarToken
	err := c.postJSON(ctx, StepAvatar, "/api/liveavatar-token", struct{}{}, &out)
	return out, err
}

func (c *Client) postJSON(ctx context.Context, step, path string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, step, path, "application/json", bytes.NewReader(buf), out)
}

func (c *Client) do(ctx context.Context, step, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RemoteServiceError{Step: step, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RemoteServiceError{Step: step, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteServiceError{Step: step, StatusCode: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

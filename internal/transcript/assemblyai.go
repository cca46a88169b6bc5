package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Transcriber turns one recorded clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

const (
	assemblyAIBaseURL   = "https://api.assemblyai.com"
	defaultPollInterval = 500 * time.Millisecond
)

var ErrTranscriptFailed = errors.New("transcript failed")

// AssemblyAIClient transcribes clips with the AssemblyAI REST API: upload the
// audio, create a transcript job, then poll until it settles.
type AssemblyAIClient struct {
	HTTPClient   *http.Client
	APIKey       string
	BaseURL      string
	Language     string
	PollInterval time.Duration
}

func NewAssemblyAIClient(apiKey string) *AssemblyAIClient {
	return &AssemblyAIClient{
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		APIKey:       apiKey,
		BaseURL:      assemblyAIBaseURL,
		Language:     "en",
		PollInterval: defaultPollInterval,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL     string `json:"audio_url"`
	LanguageCode string `json:"language_code,omitempty"`
	Punctuate    bool   `json:"punctuate"`
	FormatText   bool   `json:"format_text"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Transcribe implements Transcriber. The context bounds the whole job,
// including polling.
func (c *AssemblyAIClient) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("assemblyai api key missing")
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("assemblyai: empty audio")
	}
	var up uploadResponse
	if err := c.call(ctx, http.MethodPost, "/v2/upload", "application/octet-stream", bytes.NewReader(audio), &up); err != nil {
		return "", fmt.Errorf("assemblyai upload: %w", err)
	}

	body, _ := json.Marshal(transcriptRequest{AudioURL: up.UploadURL, LanguageCode: c.Language, Punctuate: true, FormatText: true})
	var tr transcriptResponse
	if err := c.call(ctx, http.MethodPost, "/v2/transcript", "application/json", bytes.NewReader(body), &tr); err != nil {
		return "", fmt.Errorf("assemblyai create transcript: %w", err)
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		switch tr.Status {
		case "completed":
			return strings.TrimSpace(tr.Text), nil
		case "error":
			return "", fmt.Errorf("%w: %s", ErrTranscriptFailed, tr.Error)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		if err := c.call(ctx, http.MethodGet, "/v2/transcript/"+tr.ID, "", nil, &tr); err != nil {
			return "", fmt.Errorf("assemblyai poll: %w", err)
		}
	}
}

func (c *AssemblyAIClient) call(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = assemblyAIBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("assemblyai %s %s: status=%d", method, path, resp.StatusCode)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

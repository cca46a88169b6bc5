package liveavatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ken2274132-hash/Fluently-sub000/internal/speech"
)

const DefaultAPIBase = "https://api.liveavatar.com"

// TokenClient requests session tokens from the provider on behalf of clients.
type TokenClient struct {
	APIKey     string
	AvatarID   string
	BaseURL    string
	HTTPClient *http.Client
}

func NewTokenClient(apiKey, avatarID string) *TokenClient {
	return &TokenClient{
		APIKey:     apiKey,
		AvatarID:   avatarID,
		BaseURL:    DefaultAPIBase,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenRequest struct {
	Mode     string `json:"mode"`
	AvatarID string `json:"avatar_id,omitempty"`
}

type tokenResponse struct {
	Data struct {
		SessionID    string `json:"session_id"`
		SessionToken string `json:"session_token"`
		URL          string `json:"url"`
	} `json:"data"`
	Message string `json:"message"`
}

// LiveAvatarToken implements TokenSource.
func (c *TokenClient) LiveAvatarToken(ctx context.Context) (speech.AvatarToken, error) {
	if c.APIKey == "" {
		return speech.AvatarToken{}, fmt.Errorf("liveavatar: API key missing")
	}
	body, _ := json.Marshal(tokenRequest{Mode: "FULL", AvatarID: c.AvatarID})
	base := strings.TrimRight(c.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/sessions/token", bytes.NewReader(body))
	if err != nil {
		return speech.AvatarToken{}, err
	}
	req.Header.Set("X-API-KEY", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return speech.AvatarToken{}, &speech.RemoteServiceError{Step: speech.StepAvatar, Cause: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return speech.AvatarToken{}, &speech.RemoteServiceError{Step: speech.StepAvatar, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return speech.AvatarToken{}, fmt.Errorf("liveavatar: decode token: %w", err)
	}
	if tr.Data.SessionToken == "" {
		return speech.AvatarToken{}, fmt.Errorf("liveavatar: empty session token")
	}
	return speech.AvatarToken{SessionID: tr.Data.SessionID, Token: tr.Data.SessionToken, URL: tr.Data.URL}, nil
}

package llm

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

const (
	cerebrasEndpoint = "https://api.cerebras.ai/v1/chat/completions"

	TutorPrompt = "You are Fluently, a friendly English speaking coach. Keep replies to two or three short " +
		"sentences, ask one follow-up question, and gently model correct grammar without lecturing."

	grammarPrompt = "You are an English grammar checker. Reply with JSON only, in the form " +
		`{"corrected": string, "suggestions": [{"original": string, "correction": string, "rule": string}], "score": integer 0-100}. ` +
		"Use an empty suggestions list and score 100 when the text is already correct."
)

type CerebrasClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Endpoint   string
	// SystemPrompt replaces TutorPrompt for replies when set.
	SystemPrompt string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionsRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func NewCerebrasClient(apiKey, model string) *CerebrasClient {
	return &CerebrasClient{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		Endpoint:   cerebrasEndpoint,
	}
}

// Reply answers message in the context of the trailing conversation history.
func (c *CerebrasClient) Reply(ctx context.Context, message string, history []speech.Message) (string, error) {
	prompt := c.SystemPrompt
	if prompt == "" {
		prompt = TutorPrompt
	}
	messages := []chatMessage{{Role: "system", Content: prompt}}
	for _, m := range speech.TrailingHistory(history) {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: message})
	return c.complete(ctx, chatCompletionsRequest{Model: c.Model, Messages: messages, MaxTokens: 300})
}

// CheckGrammar asks the model for corrections of text.
func (c *CerebrasClient) CheckGrammar(ctx context.Context, text string) (speech.GrammarResult, error) {
	zero := 0.0
	raw, err := c.complete(ctx, chatCompletionsRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: grammarPrompt},
			{Role: "user", Content: text},
		},
		Temperature:    &zero,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return speech.GrammarResult{}, err
	}
	return ParseGrammar(raw, text)
}

// ParseGrammar decodes a model's grammar JSON, tolerating code fences.
func ParseGrammar(raw, original string) (speech.GrammarResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		raw = raw[i : j+1]
	}
	var res speech.GrammarResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return speech.GrammarResult{}, fmt.Errorf("cerebras grammar: %w", err)
	}
	if res.Corrected == "" {
		res.Corrected = original
	}
	if res.Suggestions == nil {
		res.Suggestions = []speech.Suggestion{}
	}
	if res.Score < 0 {
		res.Score = 0
	}
	if res.Score > 100 {
		res.Score = 100
	}
	return res, nil
}

func (c *CerebrasClient) complete(ctx context.Context, body chatCompletionsRequest) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("cerebras api key missing")
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = cerebrasEndpoint
	}
	reqBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("cerebras: empty choices")
	}
	answer := strings.TrimSpace(cr.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("cerebras: empty content")
	}
	return answer, nil
}

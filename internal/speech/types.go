// Package speech is the client for the practice server's speech pipeline:
// transcription, reply generation, synthesis, grammar checks and live avatar tokens.
package speech

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// HistoryWindow is the number of trailing messages sent as reply context.
const HistoryWindow = 10

// TrailingHistory returns at most HistoryWindow of the latest messages.
func TrailingHistory(history []Message) []Message {
	if len(history) <= HistoryWindow {
		return history
	}
	return history[len(history)-HistoryWindow:]
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string    `json:"message"`
	History []Message `json:"history"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// TranscriptionResponse is the body returned by POST /api/stt.
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// SynthesisRequest is the body of POST /api/tts.
type SynthesisRequest struct {
	Text string `json:"text"`
}

// GrammarRequest is the body of POST /api/grammar-check.
type GrammarRequest struct {
	Text string `json:"text"`
}

// Suggestion is a single grammar correction.
type Suggestion struct {
	Original   string `json:"original"`
	Correction string `json:"correction"`
	Rule       string `json:"rule"`
}

// GrammarResult is the body returned by POST /api/grammar-check.
type GrammarResult struct {
	Corrected   string       `json:"corrected"`
	Suggestions []Suggestion `json:"suggestions"`
	Score       int          `json:"score"`
}

// PassThrough is the grammar result used when no checker is available.
func PassThrough(text string) GrammarResult {
	return GrammarResult{Corrected: text, Suggestions: []Suggestion{}, Score: 100}
}

// AvatarToken is the body returned by POST /api/liveavatar-token.
type AvatarToken struct {
	SessionID string `json:"session_id"`
	Token     string `json:"session_token"`
	URL       string `json:"url,omitempty"`
}

package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	STTAssemblyAI = "assemblyai"
	STTWhisper    = "whisper"
	TTSElevenLabs = "elevenlabs"
	TTSDeepgram   = "deepgram"

	DefaultGreeting = "Hi, I'm your English practice partner. What would you like to talk about today?"
	defaultICE      = `[{"urls":["stun:stun.l.google.com:19302"]}]`
)

// Config holds application configuration.
type Config struct {
	HTTPAddress   string
	PublicBaseURL string
	Greeting      string

	STTProvider    string
	AssemblyAIKey  string
	WhisperKey     string
	WhisperBaseURL string
	WhisperModel   string

	CerebrasKey     string
	CerebrasModelID string

	TTSProvider       string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	DeepgramKey       string
	DeepgramModel     string

	LiveAvatarKey string
	LiveAvatarID  string
	LiveAvatarURL string

	RedisURL string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	TwilioAccountSID string
	TwilioAuthToken  string

	ICEServersJSON string
	// RTCPassword, when set, is required by the WebRTC signaling endpoints.
	RTCPassword    string
}

// Load reads environment variables (and .env when present) and returns
// Config with sane defaults. Missing credentials are logged, never fatal.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file loaded")
	}

	cfg := Config{
		HTTPAddress:       env("HTTP_ADDRESS", ":8080"),
		PublicBaseURL:     strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		Greeting:          env("GREETING", DefaultGreeting),
		STTProvider:       strings.ToLower(env("STT_PROVIDER", STTAssemblyAI)),
		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
		WhisperKey:        os.Getenv("OPENAI_API_KEY"),
		WhisperBaseURL:    os.Getenv("WHISPER_BASE_URL"),
		WhisperModel:      os.Getenv("WHISPER_MODEL"),
		CerebrasKey:       os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID:   env("CEREBRAS_MODEL_ID", "gpt-oss-120b"),
		TTSProvider:       strings.ToLower(env("TTS_PROVIDER", TTSElevenLabs)),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     os.Getenv("DEEPGRAM_MODEL"),
		LiveAvatarKey:     os.Getenv("LIVEAVATAR_API_KEY"),
		LiveAvatarID:      os.Getenv("LIVEAVATAR_AVATAR_ID"),
		LiveAvatarURL:     os.Getenv("LIVEAVATAR_API_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		SupabaseURL:       os.Getenv("SUPABASE_URL"),
		SupabaseKey:       os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:    env("SUPABASE_BUCKET", "recordings"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		ICEServersJSON:    env("ICE_SERVERS_JSON", defaultICE),
		RTCPassword:       os.Getenv("RTC_PASSWORD"),
	}
	for _, w := range cfg.Warnings() {
		log.Println("Warning: " + w)
	}
	log.Printf("config: HTTP_ADDRESS=%s STT=%s TTS=%s", cfg.HTTPAddress, cfg.STTProvider, cfg.TTSProvider)
	return cfg
}

// Warnings lists the features that will be degraded by missing settings.
func (c Config) Warnings() []string {
	var out []string
	switch c.STTProvider {
	case STTWhisper:
		if c.WhisperKey == "" && c.WhisperBaseURL == "" {
			out = append(out, "OPENAI_API_KEY not set - transcription will not work")
		}
	default:
		if c.AssemblyAIKey == "" {
			out = append(out, "ASSEMBLYAI_API_KEY not set - transcription will not work")
		}
	}
	if c.CerebrasKey == "" {
		out = append(out, "CEREBRAS_API_KEY not set - replies will not work and grammar checks pass through")
	}
	switch c.TTSProvider {
	case TTSDeepgram:
		if c.DeepgramKey == "" {
			out = append(out, "DEEPGRAM_API_KEY not set - clients will fall back to the local voice")
		}
	default:
		if c.ElevenLabsKey == "" || c.ElevenLabsVoiceID == "" {
			out = append(out, "ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set - clients will fall back to the local voice")
		}
	}
	if c.LiveAvatarKey == "" {
		out = append(out, "LIVEAVATAR_API_KEY not set - video avatar is disabled")
	}
	if c.TwilioAuthToken == "" {
		out = append(out, "TWILIO_AUTH_TOKEN not set - phone line is disabled")
	}
	return out
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

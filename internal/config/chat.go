package config

import "time"

// ChatConfig tunes the chat relay.
type ChatConfig struct {
	HistoryLimit    int           // messages of context passed to the generator
	ChunkDelay      time.Duration // cosmetic pause between streamed words
	SyncTimeout     time.Duration // upper bound for the non-streaming endpoint
	MaxNotesLength  int           // medical notes are cut to this many runes
	MaxMessageChars int           // longest accepted user message
	PublishTimeout  time.Duration // budget for the turn-completed event
}

// GeneratorConfig selects and configures the AI response generator.
//
// Backend is one of "http" (REST AI service), "queue" (Redis request/response
// lists) or "openai" (in-process OpenAI-compatible completion).
type GeneratorConfig struct {
	Backend        string
	URL            string        // base URL of the AI service (http backend)
	Timeout        time.Duration // network-level timeout of one generation call
	RequestQueue   string        // queue backend: list receiving requests
	ResponsePrefix string        // queue backend: per-request response list prefix
	APIKey         string        // openai backend
	BaseURL        string        // openai backend, empty means api.openai.com
	Model          string        // openai backend
	Temperature    float32
	MaxTokens      int
	MaxHistory     int
}

// LoadChatConfig reads CHAT_* variables with the defaults of the relay.
func LoadChatConfig() ChatConfig {
	c := ChatConfig{
		HistoryLimit:    envInt("CHAT_HISTORY_LIMIT", 5),
		ChunkDelay:      envDur("CHAT_CHUNK_DELAY", 20*time.Millisecond),
		SyncTimeout:     envDur("CHAT_SYNC_TIMEOUT", 60*time.Second),
		MaxNotesLength:  envInt("CHAT_MAX_NOTES_LENGTH", 500),
		MaxMessageChars: envInt("CHAT_MAX_MESSAGE_CHARS", 2000),
		PublishTimeout:  envDur("CHAT_EVENT_TIMEOUT", 3*time.Second),
	}
	if c.HistoryLimit < 0 {
		c.HistoryLimit = 0
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 60 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 3 * time.Second
	}
	return c
}

// LoadGeneratorConfig reads GENERATOR_* variables.
func LoadGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Backend:        envStr("GENERATOR_BACKEND", "http"),
		URL:            envStr("GENERATOR_URL", envStr("AI_SERVICE_URL", "http://localhost:8001")),
		Timeout:        envDur("GENERATOR_TIMEOUT", 60*time.Second),
		RequestQueue:   envStr("GENERATOR_REQUEST_QUEUE", "ai_requests"),
		ResponsePrefix: envStr("GENERATOR_RESPONSE_PREFIX", "ai_responses:"),
		APIKey:         envStr("GENERATOR_API_KEY", ""),
		BaseURL:        envStr("GENERATOR_BASE_URL", ""),
		Model:          envStr("GENERATOR_MODEL", "gpt-4o-mini"),
		Temperature:    float32(envFloat("GENERATOR_TEMPERATURE", 0.7)),
		MaxTokens:      envInt("GENERATOR_MAX_TOKENS", 2048),
		MaxHistory:     envInt("GENERATOR_MAX_HISTORY", 5),
	}
}

// Package config loads the NPC engagement engine's configuration from
// environment variables, with sensible defaults for every setting. There
// is no database-backed configuration layer: the engine keeps no state
// across restarts, so there is nothing here for a restart to need to
// recover.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/npcmediator/engine/internal/buffer"
	"github.com/npcmediator/engine/internal/conversation"
	"github.com/npcmediator/engine/internal/decision"
	"github.com/npcmediator/engine/internal/llm"
	"github.com/npcmediator/engine/internal/statemachine"
)

// Config holds every environment-configurable setting for the engine.
type Config struct {
	Enabled bool // NPC_ENABLED

	Engine   EngineConfig
	Buffer   BufferConfig
	Decision DecisionConfig
	History  HistoryConfig
	Memory   MemoryConfig
	LLM      LLMConfig
	Server   ServerConfig
}

// ServerConfig controls process-level wiring that the distilled config
// surface is silent on: where the HTTP layer listens, and where the
// persona definition and conversation log collaborator live on disk.
type ServerConfig struct {
	ListenAddr     string  // NPC_LISTEN_ADDR
	PersonaPath    string  // NPC_PERSONA_PATH
	ConvLogPath    string  // NPC_CONVLOG_PATH
	RateLimitRPS   float64 // NPC_RATE_LIMIT_RPS
	RateLimitBurst int     // NPC_RATE_LIMIT_BURST
}

// EngineConfig controls the state machine's tick cadence and per-state
// wall-clock timeouts.
type EngineConfig struct {
	TickIntervalMs   int // NPC_TICK_INTERVAL_MS
	ListeningMs      int // NPC_LISTENING_TIMEOUT_MS
	ThinkingMs       int // NPC_THINKING_TIMEOUT_MS
	SpeakingCooldown int // NPC_SPEAKING_COOLDOWN_MS
}

// BufferConfig controls the per-speaker message buffer.
type BufferConfig struct {
	MaxPerAvatar        int // NPC_BUFFER_MAX_PER_AVATAR
	MaxTotalSize        int // NPC_BUFFER_MAX_TOTAL_SIZE
	AggregationWindowMs int // NPC_BUFFER_AGGREGATION_WINDOW_MS
	ExpiryMs            int // NPC_BUFFER_EXPIRY_MS
}

// DecisionConfig controls the priority-scoring formula and the
// respond/decline gates.
type DecisionConfig struct {
	ResponseThreshold      float64  // NPC_RESPONSE_THRESHOLD
	ResponseChance         float64  // NPC_RESPONSE_CHANCE
	TriggerWords           []string // NPC_TRIGGER_WORDS (comma-separated)
	ScoreDirectMention     float64  // NPC_SCORE_DIRECT_MENTION
	ScoreRecentInteraction float64  // NPC_SCORE_RECENT_INTERACTION
	ScoreMessageCountMult  float64  // NPC_SCORE_MESSAGE_COUNT_MULT
	ScoreConsecutiveBonus  float64  // NPC_SCORE_CONSECUTIVE_BONUS
	ScoreMaxTimeDecay      float64  // NPC_SCORE_MAX_TIME_DECAY
	ScoreTimeDecayRate     float64  // NPC_SCORE_TIME_DECAY_RATE
	ScoreRandomnessRange   float64  // NPC_SCORE_RANDOMNESS_RANGE
	AvatarCooldownMs       int      // NPC_AVATAR_COOLDOWN_MS
}

// HistoryConfig controls the Conversation Manager's trimming and
// token-budgeted prompt assembly.
type HistoryConfig struct {
	MaxHistoryMessages     int // CONVERSATION_MAX_HISTORY_MESSAGES
	MaxContextTokens       int // CONTEXT_MAX_TOKENS
	SystemPromptMaxPercent int // CONTEXT_SYSTEM_PROMPT_MAX_PERCENT
	InactivityTimeoutMs    int // INACTIVITY_TIMEOUT_MS
}

// MemoryConfig controls long-term memory injection.
type MemoryConfig struct {
	Enabled     bool // MEMORY_ENABLED
	TokenBudget int  // MEMORY_TOKEN_BUDGET
}

// LLMConfig selects and configures the LLM provider. There is no single
// documented NPC_* env var family for this in the distilled config
// surface, since the spec treats LLM transport as an injected
// collaborator; these mirror the naming the teacher used for the same
// concern.
type LLMConfig struct {
	Provider  string // LLM_PROVIDER
	APIKey    string // LLM_API_KEY
	Model     string // LLM_MODEL
	BaseURL   string // LLM_BASE_URL
	TimeoutMs int    // LLM_TIMEOUT_MS
}

// Load reads the full configuration from environment variables, applying
// the defaults documented for each setting.
func Load() *Config {
	return &Config{
		Enabled: getEnvBool("NPC_ENABLED", false),
		Engine: EngineConfig{
			TickIntervalMs:   getEnvInt("NPC_TICK_INTERVAL_MS", 1000),
			ListeningMs:      getEnvInt("NPC_LISTENING_TIMEOUT_MS", 15000),
			ThinkingMs:       getEnvInt("NPC_THINKING_TIMEOUT_MS", 30000),
			SpeakingCooldown: getEnvInt("NPC_SPEAKING_COOLDOWN_MS", 5000),
		},
		Buffer: BufferConfig{
			MaxPerAvatar:        getEnvInt("NPC_BUFFER_MAX_PER_AVATAR", 10),
			MaxTotalSize:        getEnvInt("NPC_BUFFER_MAX_TOTAL_SIZE", 50),
			AggregationWindowMs: getEnvInt("NPC_BUFFER_AGGREGATION_WINDOW_MS", 5000),
			ExpiryMs:            getEnvInt("NPC_BUFFER_EXPIRY_MS", 60000),
		},
		Decision: DecisionConfig{
			ResponseThreshold:      getEnvFloat("NPC_RESPONSE_THRESHOLD", 50),
			ResponseChance:         getEnvFloat("NPC_RESPONSE_CHANCE", 0.8),
			TriggerWords:           getEnvList("NPC_TRIGGER_WORDS", []string{"maid", "cat-maid", "kitty"}),
			ScoreDirectMention:     getEnvFloat("NPC_SCORE_DIRECT_MENTION", 100),
			ScoreRecentInteraction: getEnvFloat("NPC_SCORE_RECENT_INTERACTION", 30),
			ScoreMessageCountMult:  getEnvFloat("NPC_SCORE_MESSAGE_COUNT_MULT", 5),
			ScoreConsecutiveBonus:  getEnvFloat("NPC_SCORE_CONSECUTIVE_BONUS", 10),
			ScoreMaxTimeDecay:      getEnvFloat("NPC_SCORE_MAX_TIME_DECAY", 20),
			ScoreTimeDecayRate:     getEnvFloat("NPC_SCORE_TIME_DECAY_RATE", 2),
			ScoreRandomnessRange:   getEnvFloat("NPC_SCORE_RANDOMNESS_RANGE", 10),
			AvatarCooldownMs:       getEnvInt("NPC_AVATAR_COOLDOWN_MS", 30000),
		},
		History: HistoryConfig{
			MaxHistoryMessages:     getEnvInt("CONVERSATION_MAX_HISTORY_MESSAGES", 50),
			MaxContextTokens:       getEnvInt("CONTEXT_MAX_TOKENS", 8000),
			SystemPromptMaxPercent: getEnvInt("CONTEXT_SYSTEM_PROMPT_MAX_PERCENT", 80),
			InactivityTimeoutMs:    getEnvInt("INACTIVITY_TIMEOUT_MS", 3600000),
		},
		Memory: MemoryConfig{
			Enabled:     getEnvBool("MEMORY_ENABLED", true),
			TokenBudget: getEnvInt("MEMORY_TOKEN_BUDGET", 500),
		},
		LLM: LLMConfig{
			Provider:  getEnv("LLM_PROVIDER", "ollama"),
			APIKey:    getEnv("LLM_API_KEY", ""),
			Model:     getEnv("LLM_MODEL", ""),
			BaseURL:   getEnv("LLM_BASE_URL", ""),
			TimeoutMs: getEnvInt("LLM_TIMEOUT_MS", 60000),
		},
		Server: ServerConfig{
			ListenAddr:     getEnv("NPC_LISTEN_ADDR", ":8080"),
			PersonaPath:    getEnv("NPC_PERSONA_PATH", "persona.yaml"),
			ConvLogPath:    getEnv("NPC_CONVLOG_PATH", "conversation_log.db"),
			RateLimitRPS:   getEnvFloat("NPC_RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("NPC_RATE_LIMIT_BURST", 20),
		},
	}
}

// BufferConfig builds the buffer.Config these settings describe.
func (c *Config) BufferConfig() buffer.Config {
	return buffer.Config{
		MaxMessagesPerAvatar: c.Buffer.MaxPerAvatar,
		MaxTotalBufferSize:   c.Buffer.MaxTotalSize,
		AggregationWindow:    time.Duration(c.Buffer.AggregationWindowMs) * time.Millisecond,
		ExpiryAge:            time.Duration(c.Buffer.ExpiryMs) * time.Millisecond,
	}
}

// DecisionConfig builds the decision.Config these settings describe.
func (c *Config) DecisionConfig() decision.Config {
	return decision.Config{
		TriggerWords:           c.Decision.TriggerWords,
		DirectMentionBonus:     c.Decision.ScoreDirectMention,
		RecentInteractionBonus: c.Decision.ScoreRecentInteraction,
		MessageCountMultiplier: c.Decision.ScoreMessageCountMult,
		ConsecutiveBonus:       c.Decision.ScoreConsecutiveBonus,
		MaxTimeDecay:           c.Decision.ScoreMaxTimeDecay,
		TimeDecayRatePerMinute: c.Decision.ScoreTimeDecayRate,
		RandomnessRange:        c.Decision.ScoreRandomnessRange,
		ResponseThreshold:      c.Decision.ResponseThreshold,
		ResponseChance:         c.Decision.ResponseChance,
		CooldownDuration:       time.Duration(c.Decision.AvatarCooldownMs) * time.Millisecond,
	}
}

// StateMachineConfig builds the statemachine.Config these settings describe.
func (c *Config) StateMachineConfig() statemachine.Config {
	return statemachine.Config{
		TickInterval: time.Duration(c.Engine.TickIntervalMs) * time.Millisecond,
		ListeningMs:  time.Duration(c.Engine.ListeningMs) * time.Millisecond,
		ThinkingMs:   time.Duration(c.Engine.ThinkingMs) * time.Millisecond,
		CooldownMs:   time.Duration(c.Engine.SpeakingCooldown) * time.Millisecond,
	}
}

// ConversationConfig builds the conversation.Config these settings describe.
func (c *Config) ConversationConfig() conversation.Config {
	return conversation.Config{
		MaxHistoryMessages:     c.History.MaxHistoryMessages,
		MaxContextTokens:       c.History.MaxContextTokens,
		SystemPromptMaxPercent: c.History.SystemPromptMaxPercent,
		InactivityTimeout:      time.Duration(c.History.InactivityTimeoutMs) * time.Millisecond,
	}
}

// ProviderConfig builds the llm.ProviderConfig these settings describe.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider: c.LLM.Provider,
		APIKey:   c.LLM.APIKey,
		Model:    c.LLM.Model,
		BaseURL:  c.LLM.BaseURL,
		Timeout:  time.Duration(c.LLM.TimeoutMs) * time.Millisecond,
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the environment variable exists but cannot be parsed as an
// integer, it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value, using the same silent-fallback-on-parse-error behavior as
// getEnvInt.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" as true and "false", "0", "no"
// as false (case-insensitive). If the environment variable exists but
// cannot be parsed as a boolean, it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated environment variable as a string
// slice, trimming whitespace around each element and dropping empties. It
// returns the default slice if the variable is unset.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider and mode names accepted in the environment.
const (
	CoachAnthropic = "anthropic"
	CoachGRPC      = "grpc"

	STTDeepgram = "deepgram"
	STTNone     = "none"

	ModeSuggestions = "suggestions"
	ModeGuidance    = "guidance"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	CORSOrigins  []string
	DBPath       string
	LogLevel     string
	LogJSON      bool
	PlaybookPath string

	Coach         CoachConfig
	Transcription TranscriptionConfig
	Session       SessionConfig

	RateLimitPerMinute      int
	MaxAudioChunksPerSecond int
}

// CoachConfig selects and tunes the suggestion generator.
type CoachConfig struct {
	Mode        string
	Provider    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	GrpcAddr    string
	Timeout     time.Duration
}

// TranscriptionConfig selects the speech-to-text provider.
type TranscriptionConfig struct {
	Provider string
	APIKey   string
	Model    string
	Language string
}

// SessionConfig tunes live call handling.
type SessionConfig struct {
	MaxContextMessages     int
	SpeakerSwitchThreshold time.Duration
	QueuePolicy            string
	QueueDepth             int
	Timeout                time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		DBPath:       getEnv("DB_PATH", "./data/calls.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogJSON:      getEnvBool("LOG_JSON", true),
		PlaybookPath: getEnv("PLAYBOOK_PATH", ""),
		Coach: CoachConfig{
			Mode:        strings.ToLower(getEnv("COACHING_MODE", ModeSuggestions)),
			Provider:    strings.ToLower(getEnv("COACH_PROVIDER", CoachAnthropic)),
			APIKey:      getEnv("ANTHROPIC_API_KEY", ""),
			Model:       getEnv("CLAUDE_MODEL", "claude-sonnet-4-20250514"),
			MaxTokens:   getEnvInt("CLAUDE_MAX_TOKENS", 800),
			Temperature: getEnvFloat("CLAUDE_TEMPERATURE", 0.7),
			GrpcAddr:    getEnv("COACH_GRPC_ADDR", ""),
			Timeout:     getEnvDuration("COACH_TIMEOUT", 15*time.Second),
		},
		Transcription: TranscriptionConfig{
			Provider: strings.ToLower(getEnv("STT_PROVIDER", STTDeepgram)),
			APIKey:   getEnv("DEEPGRAM_API_KEY", ""),
			Model:    getEnv("DEEPGRAM_MODEL", "nova-2"),
			Language: getEnv("DEEPGRAM_LANGUAGE", "en-US"),
		},
		Session: SessionConfig{
			MaxContextMessages:     getEnvInt("MAX_CONTEXT_MESSAGES", 15),
			SpeakerSwitchThreshold: getEnvDuration("SPEAKER_SWITCH_THRESHOLD", 1500*time.Millisecond),
			QueuePolicy:            strings.ToLower(getEnv("COACH_QUEUE_POLICY", "queue")),
			QueueDepth:             getEnvInt("COACH_QUEUE_DEPTH", 4),
			Timeout:                time.Duration(getEnvInt("SESSION_TIMEOUT_MINUTES", 60)) * time.Minute,
		},
		RateLimitPerMinute:      getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		MaxAudioChunksPerSecond: getEnvInt("MAX_AUDIO_CHUNKS_PER_SECOND", 20),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks required fields and numeric ranges. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1024 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1024 and 65535 (got %q)", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}

	switch c.Coach.Mode {
	case ModeSuggestions, ModeGuidance:
	default:
		errs = append(errs, fmt.Errorf("COACHING_MODE must be %q or %q (got %q)", ModeSuggestions, ModeGuidance, c.Coach.Mode))
	}

	switch c.Coach.Provider {
	case CoachAnthropic:
		errs = append(errs, checkKey("ANTHROPIC_API_KEY", c.Coach.APIKey)...)
	case CoachGRPC:
		if c.Coach.GrpcAddr == "" {
			errs = append(errs, errors.New("COACH_GRPC_ADDR is required when COACH_PROVIDER=grpc"))
		}
	default:
		errs = append(errs, fmt.Errorf("COACH_PROVIDER must be %q or %q (got %q)", CoachAnthropic, CoachGRPC, c.Coach.Provider))
	}
	if c.Coach.MaxTokens < 100 || c.Coach.MaxTokens > 4096 {
		errs = append(errs, fmt.Errorf("CLAUDE_MAX_TOKENS must be between 100 and 4096 (got %d)", c.Coach.MaxTokens))
	}
	if c.Coach.Temperature < 0 || c.Coach.Temperature > 1 {
		errs = append(errs, fmt.Errorf("CLAUDE_TEMPERATURE must be between 0 and 1 (got %g)", c.Coach.Temperature))
	}
	if c.Coach.Timeout <= 0 {
		errs = append(errs, errors.New("COACH_TIMEOUT must be > 0"))
	}

	switch c.Transcription.Provider {
	case STTDeepgram:
		errs = append(errs, checkKey("DEEPGRAM_API_KEY", c.Transcription.APIKey)...)
	case STTNone:
	default:
		errs = append(errs, fmt.Errorf("STT_PROVIDER must be %q or %q (got %q)", STTDeepgram, STTNone, c.Transcription.Provider))
	}

	if c.Session.MaxContextMessages < 1 || c.Session.MaxContextMessages > 100 {
		errs = append(errs, fmt.Errorf("MAX_CONTEXT_MESSAGES must be between 1 and 100 (got %d)", c.Session.MaxContextMessages))
	}
	if c.Session.SpeakerSwitchThreshold <= 0 {
		errs = append(errs, errors.New("SPEAKER_SWITCH_THRESHOLD must be > 0"))
	}
	switch c.Session.QueuePolicy {
	case "queue", "latest":
	default:
		errs = append(errs, fmt.Errorf("COACH_QUEUE_POLICY must be \"queue\" or \"latest\" (got %q)", c.Session.QueuePolicy))
	}
	if c.Session.QueueDepth <= 0 {
		errs = append(errs, errors.New("COACH_QUEUE_DEPTH must be > 0"))
	}
	if c.Session.Timeout <= 0 {
		errs = append(errs, errors.New("SESSION_TIMEOUT_MINUTES must be > 0"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be > 0"))
	}
	if c.MaxAudioChunksPerSecond <= 0 {
		errs = append(errs, errors.New("MAX_AUDIO_CHUNKS_PER_SECOND must be > 0"))
	}

	return errors.Join(errs...)
}

// IsDevelopment returns true when only local origins are allowed.
func (c *Config) IsDevelopment() bool {
	for _, origin := range c.CORSOrigins {
		if !strings.Contains(origin, "localhost") && !strings.Contains(origin, "127.0.0.1") {
			return false
		}
	}
	return true
}

func checkKey(name, value string) []error {
	switch {
	case value == "":
		return []error{fmt.Errorf("%s is required", name)}
	case isPlaceholder(value):
		return []error{fmt.Errorf("%s appears to be a placeholder value", name)}
	}
	return nil
}

func isPlaceholder(value string) bool {
	return strings.HasPrefix(value, "your_") || strings.HasSuffix(value, "_here")
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go duration strings ("1.5s") or bare seconds ("1.5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

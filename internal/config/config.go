// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Inference providers.
const (
	ProviderAuto    = "auto"
	ProviderGemini  = "gemini"
	ProviderOpenAI  = "openai"
	ProviderOffline = "offline"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	GRPCPort      string
	FrontendURL   string
	DBPath        string
	PhasesFile    string // optional override for the embedded phase table
	SessionTTL    time.Duration
	SweepInterval time.Duration

	Inference       InferenceConfig
	Limits          LimitsConfig
	Retry           RetryConfig
	RateLimit       RateLimitConfig
	Timeout         TimeoutConfig
	Redis           RedisConfig
	ConversationLog ConversationLogConfig
}

// InferenceConfig selects and configures the model backend.
type InferenceConfig struct {
	Provider      string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// LimitsConfig caps concurrent inference calls.
type LimitsConfig struct {
	GlobalConcurrency int
	PerConversation   int
}

// RetryConfig tunes retries for inference and database writes.
type RetryConfig struct {
	InferenceMaxAttempts    int
	InferenceBaseDelay      time.Duration
	InferenceMaxDelay       time.Duration
	InferenceJitter         time.Duration
	InferenceAttemptTimeout time.Duration
	DatabaseMaxRetries      int
	DatabaseRetryBaseDelay  time.Duration
}

// RateLimitConfig controls the per-session request window on the turn endpoint.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// TimeoutConfig holds request-scoped timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Turn        time.Duration
	Shutdown    time.Duration
}

// RedisConfig enables the distributed turn lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		GRPCPort:      getEnv("GRPC_PORT", "9090"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/intakeflow.db"),
		PhasesFile:    getEnv("PHASES_FILE", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		Inference: InferenceConfig{
			Provider:      strings.ToLower(getEnv("INFERENCE_PROVIDER", ProviderAuto)),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			GeminiModel:   getEnv("GEMINI_MODEL", ""),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", ""),
		},
		Limits: LimitsConfig{
			GlobalConcurrency: getEnvInt("INFERENCE_MAX_CONCURRENCY", 5),
			PerConversation:   getEnvInt("INFERENCE_MAX_PER_CONVERSATION", 1),
		},
		Retry: RetryConfig{
			InferenceMaxAttempts:    getEnvInt("INFERENCE_MAX_ATTEMPTS", 3),
			InferenceBaseDelay:      getEnvDuration("INFERENCE_RETRY_BASE_DELAY", 500*time.Millisecond),
			InferenceMaxDelay:       getEnvDuration("INFERENCE_RETRY_MAX_DELAY", 8*time.Second),
			InferenceJitter:         getEnvDuration("INFERENCE_RETRY_JITTER", 250*time.Millisecond),
			InferenceAttemptTimeout: getEnvDuration("INFERENCE_ATTEMPT_TIMEOUT", 20*time.Second),
			DatabaseMaxRetries:      getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay:  getEnvDuration("DB_RETRY_BASE_DELAY", 100*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 2*time.Second),
			Turn:        getEnvDuration("TURN_TIMEOUT", 90*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			LockTTL:  getEnvDuration("REDIS_LOCK_TTL", 2*time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Inference.Provider {
	case ProviderAuto, ProviderOffline:
	case ProviderGemini:
		if c.Inference.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for provider %q", ProviderGemini)
		}
	case ProviderOpenAI:
		if c.Inference.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %q", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("unknown INFERENCE_PROVIDER %q", c.Inference.Provider)
	}
	if c.Limits.GlobalConcurrency <= 0 || c.Limits.PerConversation <= 0 {
		return fmt.Errorf("inference concurrency limits must be > 0")
	}
	if c.Retry.InferenceMaxAttempts <= 0 {
		return fmt.Errorf("INFERENCE_MAX_ATTEMPTS must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate limit window and request count must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// ResolvedProvider returns the provider after applying auto-detection.
func (c *Config) ResolvedProvider() string {
	if c.Inference.Provider != ProviderAuto && c.Inference.Provider != "" {
		return c.Inference.Provider
	}
	switch {
	case c.Inference.GeminiAPIKey != "":
		return ProviderGemini
	case c.Inference.OpenAIAPIKey != "":
		return ProviderOpenAI
	default:
		return ProviderOffline
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

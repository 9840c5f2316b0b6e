package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the triage service.
type Config struct {
	Port      int
	Version   string
	Env       string // "development" enables strict provider param checks
	DataDir   string // in-memory store snapshot dir; empty disables persistence
	Database  DatabaseConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Triage    TriageConfig
	OpenAI    OpenAIConfig
}

type DatabaseConfig struct {
	URL            string // empty = in-memory store
	MaxConnections int
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	URL            string // empty = advice rows stay in the primary store
	ConnectTimeout time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Version      string
}

type AuthConfig struct {
	APIKeys []string // empty disables API key auth
}

type TriageConfig struct {
	RuntimeConfigTTL    time.Duration
	AdviceTTL           time.Duration
	AdviceLocalSize     int
	AdviceSweepInterval time.Duration
	ResponsesOnlyModels []string
	CapabilitiesFile    string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Strict reports whether the service runs in development mode.
func (c *Config) Strict() bool {
	return strings.EqualFold(c.Env, "development")
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	version := envStr("TRIAGE_VERSION", "0.1.0")
	return &Config{
		Port:    envInt("TRIAGE_PORT", 8080),
		Version: version,
		Env:     envStr("TRIAGE_ENV", "production"),
		DataDir: envStr("TRIAGE_DATA_DIR", ""),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 10),
			ConnectTimeout: envDuration("DATABASE_CONNECT_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:            envStr("REDIS_URL", ""),
			ConnectTimeout: envDuration("REDIS_CONNECT_TIMEOUT", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "llm-triage"),
			Version:      version,
		},
		Auth: AuthConfig{
			APIKeys: envList("TRIAGE_API_KEYS"),
		},
		Triage: TriageConfig{
			RuntimeConfigTTL:    envDuration("TRIAGE_RUNTIME_CONFIG_TTL", 30*time.Second),
			AdviceTTL:           envDuration("TRIAGE_ADVICE_TTL", 24*time.Hour),
			AdviceLocalSize:     envInt("TRIAGE_ADVICE_LOCAL_SIZE", 1024),
			AdviceSweepInterval: envDuration("TRIAGE_ADVICE_SWEEP_INTERVAL", time.Hour),
			ResponsesOnlyModels: envList("LLM_RESPONSES_ONLY_MODELS"),
			CapabilitiesFile:    envStr("LLM_MODEL_CAPABILITIES_FILE", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:  envStr("OPENAI_API_KEY", ""),
			BaseURL: envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Timeout: envDuration("OPENAI_TIMEOUT", 30*time.Second),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated variable, dropping blank entries.
func envList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

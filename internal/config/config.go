// Package config loads the engine configuration from environment
// variables with sensible defaults.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// Config holds all configuration for the analysis engine.
type Config struct {
	Port      int
	Version   string
	Dispatch  DispatchConfig
	Router    RouterConfig
	Validator ValidatorConfig
	Redis     RedisConfig
	Retention RetentionConfig
	Alerts    AlertConfig
	Telemetry TelemetryConfig
	Providers ProvidersConfig
}

type DispatchConfig struct {
	MaxConcurrent int
	RequeueDelay  time.Duration
}

type RouterConfig struct {
	// Cooldown applies to a provider after a rate-limit signal.
	Cooldown time.Duration
}

type ValidatorConfig struct {
	ConfidenceThreshold float64
	MaxRetries          int
}

type RedisConfig struct {
	// URL is optional; without it the engine runs with no status cache.
	URL string
}

type RetentionConfig struct {
	// Interval between retention sweeps. Zero disables the janitor.
	Interval time.Duration
	// MaxAge is how long results stay in the hot store.
	MaxAge time.Duration
	// ArchiveDir, when set, archives expired results as gzipped JSONL
	// before purging.
	ArchiveDir string
}

type AlertConfig struct {
	WebhookURL    string
	WebhookSecret string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// ProviderConfig describes one vision provider sourced from env.
type ProviderConfig struct {
	APIKey    string
	Endpoint  string
	Model     string
	CostPer1K float64
	Timeout   time.Duration
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Ollama    ProviderConfig
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:    envInt("YARDSIGHT_PORT", 8080),
		Version: envStr("YARDSIGHT_VERSION", "0.1.0"),
		Dispatch: DispatchConfig{
			MaxConcurrent: envInt("DISPATCH_MAX_CONCURRENT", 3),
			RequeueDelay:  envDuration("DISPATCH_REQUEUE_DELAY", 30*time.Second),
		},
		Router: RouterConfig{
			Cooldown: envDuration("PROVIDER_COOLDOWN", 60*time.Second),
		},
		Validator: ValidatorConfig{
			ConfidenceThreshold: envFloat("VALIDATOR_CONFIDENCE_THRESHOLD", 0.6),
			MaxRetries:          envInt("VALIDATOR_MAX_RETRIES", 2),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Retention: RetentionConfig{
			Interval:   envDuration("RETENTION_INTERVAL", 0),
			MaxAge:     envDuration("RETENTION_MAX_AGE", 7*24*time.Hour),
			ArchiveDir: os.Getenv("RETENTION_ARCHIVE_DIR"),
		},
		Alerts: AlertConfig{
			WebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
			WebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "yardsight-analysis-engine"),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey:    os.Getenv("OPENAI_API_KEY"),
				Endpoint:  envStr("OPENAI_BASE_URL", ""),
				Model:     envStr("OPENAI_MODEL", "gpt-4o"),
				CostPer1K: envFloat("OPENAI_COST_PER_1K", 0.005),
				Timeout:   envDuration("OPENAI_TIMEOUT", 90*time.Second),
			},
			Anthropic: ProviderConfig{
				APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
				Endpoint:  envStr("ANTHROPIC_BASE_URL", ""),
				Model:     envStr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
				CostPer1K: envFloat("ANTHROPIC_COST_PER_1K", 0.009),
				Timeout:   envDuration("ANTHROPIC_TIMEOUT", 90*time.Second),
			},
			Ollama: ProviderConfig{
				Endpoint:  envStr("OLLAMA_BASE_URL", ""),
				Model:     envStr("OLLAMA_MODEL", "llava"),
				CostPer1K: envFloat("OLLAMA_COST_PER_1K", 0),
				Timeout:   envDuration("OLLAMA_TIMEOUT", 120*time.Second),
			},
		},
	}
}

// Descriptors converts the configured providers into registry entries.
// OpenAI and Anthropic require an API key to be enabled; Ollama
// requires an explicit base URL.
func (c *Config) Descriptors() []models.ProviderDescriptor {
	var out []models.ProviderDescriptor
	if p := c.Providers.OpenAI; p.APIKey != "" {
		out = append(out, models.ProviderDescriptor{
			ID: "openai", Kind: "openai", Model: p.Model, Endpoint: p.Endpoint,
			APIKey: p.APIKey, CostPer1K: p.CostPer1K, Timeout: p.Timeout, Enabled: true,
		})
	}
	if p := c.Providers.Anthropic; p.APIKey != "" {
		out = append(out, models.ProviderDescriptor{
			ID: "anthropic", Kind: "anthropic", Model: p.Model, Endpoint: p.Endpoint,
			APIKey: p.APIKey, CostPer1K: p.CostPer1K, Timeout: p.Timeout, Enabled: true,
		})
	}
	if p := c.Providers.Ollama; p.Endpoint != "" {
		out = append(out, models.ProviderDescriptor{
			ID: "ollama", Kind: "ollama", Model: p.Model, Endpoint: p.Endpoint,
			CostPer1K: p.CostPer1K, Timeout: p.Timeout, Enabled: true,
		})
	}
	return out
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

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

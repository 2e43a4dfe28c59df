package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yardsight/yardsight/analysis-engine/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 3, cfg.Dispatch.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.RequeueDelay)
	assert.Equal(t, 60*time.Second, cfg.Router.Cooldown)
	assert.InDelta(t, 0.6, cfg.Validator.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 2, cfg.Validator.MaxRetries)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.MaxAge)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "yardsight-analysis-engine", cfg.Telemetry.ServiceName)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("YARDSIGHT_PORT", "9090")
	t.Setenv("DISPATCH_MAX_CONCURRENT", "8")
	t.Setenv("DISPATCH_REQUEUE_DELAY", "45s")
	t.Setenv("PROVIDER_COOLDOWN", "2m")
	t.Setenv("VALIDATOR_CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := config.Load()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 8, cfg.Dispatch.MaxConcurrent)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.RequeueDelay)
	assert.Equal(t, 2*time.Minute, cfg.Router.Cooldown)
	assert.InDelta(t, 0.75, cfg.Validator.ConfidenceThreshold, 1e-9)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("YARDSIGHT_PORT", "not-a-number")
	t.Setenv("DISPATCH_REQUEUE_DELAY", "soon")

	cfg := config.Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.RequeueDelay)
}

func TestDescriptorsRequireCredentials(t *testing.T) {
	cfg := config.Load()
	cfg.Providers.OpenAI.APIKey = ""
	cfg.Providers.Anthropic.APIKey = ""
	cfg.Providers.Ollama.Endpoint = ""
	assert.Empty(t, cfg.Descriptors())

	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.Ollama.Endpoint = "http://localhost:11434"

	descs := cfg.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "openai", descs[0].ID)
	assert.True(t, descs[0].Enabled)
	assert.Equal(t, "ollama", descs[1].ID)
}

package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigWithRootIsValid(t *testing.T) {
	cfg := DefaultConfigWithRoot(t.TempDir())
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.ClassEnabled("equity"))
	require.False(t, cfg.ClassEnabled("option"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rounds", func(c *Config) { c.MaxDebateRounds = 0 }},
		{"zero risk rounds", func(c *Config) { c.MaxRiskDiscussRounds = 0 }},
		{"threshold above one", func(c *Config) { c.SemanticThreshold = 1.5 }},
		{"negative info gain", func(c *Config) { c.InfoGainThreshold = -0.1 }},
		{"unknown backend", func(c *Config) { c.CheckpointBackend = "tape" }},
		{"networked without dsn", func(c *Config) { c.CheckpointBackend = "networked" }},
		{"position fraction zero", func(c *Config) { c.MaxPositionFraction = 0 }},
		{"unknown class", func(c *Config) { c.EnabledInstrumentClasses = []string{"crypto"} }},
		{"no timeout", func(c *Config) { c.StageTimeout = 0 }},
		{"no attempts", func(c *Config) { c.RetryPolicy.MaxAttempts = 0 }},
		{"rest broker without url", func(c *Config) { c.Broker = "rest" }},
		{"s3 without bucket", func(c *Config) { c.AuditBackend = "s3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfigWithRoot(t.TempDir())
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDurationJSON(t *testing.T) {
	var policy RetryPolicy
	require.NoError(t, json.Unmarshal([]byte(`{"max_attempts":2,"backoff":"250ms","max_backoff":5}`), &policy))
	require.Equal(t, 250*time.Millisecond, policy.Backoff.Std())
	require.Equal(t, 5*time.Second, policy.MaxBackoff.Std())

	out, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	require.Equal(t, `"1m30s"`, string(out))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MAX_DEBATE_ROUNDS", "3")
	t.Setenv("CHECKPOINT_BACKEND", "memory")
	t.Setenv("ENABLED_INSTRUMENT_CLASSES", "equity, short")
	t.Setenv("STAGE_TIMEOUT", "45s")

	cfg := DefaultConfigWithRoot(t.TempDir())
	cfg.loadFromEnv()
	require.Equal(t, 3, cfg.MaxDebateRounds)
	require.Equal(t, "memory", cfg.CheckpointBackend)
	require.Equal(t, []string{"equity", "short"}, cfg.EnabledInstrumentClasses)
	require.Equal(t, 45*time.Second, cfg.StageTimeout.Std())
}

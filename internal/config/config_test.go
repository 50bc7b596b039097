package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppliesDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("START_URL", "")
	t.Setenv("ALLOWED_DOMAINS", "")
	t.Setenv("STEP_CAP", "")
	t.Setenv("SCROLL_CAP", "")

	cfg := Load()
	assert.Equal(t, "about:blank", cfg.StartURL)
	assert.Equal(t, 50, cfg.StepCap)
	assert.Equal(t, 5, cfg.ScrollCap)
	assert.NotEmpty(t, cfg.ConfirmationKeywords, "should have the documented default list")
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("START_URL", "https://example.com")
	t.Setenv("ALLOWED_DOMAINS", "a.com, b.com ,")
	t.Setenv("STEP_CAP", "20")
	t.Setenv("AGENT_HEADLESS", "false")

	cfg := Load()
	assert.Equal(t, "https://example.com", cfg.StartURL)
	assert.Equal(t, []string{"a.com", "b.com"}, cfg.AllowedDomains)
	assert.Equal(t, 20, cfg.StepCap)
	assert.False(t, cfg.Headless)
}

func TestGetIntEnvFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SCROLL_CAP", "not-a-number")
	cfg := Load()
	assert.Equal(t, 5, cfg.ScrollCap, "should fall back to default on an unparsable override")
}

// Package config centralizes every environment-variable-driven setting
// named in the specification's external-interfaces section, loaded via
// godotenv exactly as the teacher's cmd/agent/main.go does.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime-tunable value. Defaults match the values the
// specification states explicitly.
type Config struct {
	StartURL               string
	AllowedDomains         []string
	ConfirmationKeywords   []string
	Headless               bool
	ViewportWidth          int
	ViewportHeight         int
	LLMProvider            string
	LLMMaxRequestSize      int
	LLMDefaultMaxTokens    int
	ListenPort             string
	DBPath                 string
	ArtifactsDir           string

	// StepCap and ScrollCap feed the agent loop. ScoutCaptchaWait and
	// HistoryWindow are loaded but not consumed: the scout uses its fixed
	// 2-minute CAPTCHA wait and the history store its fixed DefaultWindow.
	ScoutCaptchaWait  time.Duration
	StepCap           int
	ScrollCap         int
	HistoryWindow     int
}

// Load reads .env (best-effort, missing file is not an error) then builds
// a Config from the environment, applying the spec's stated defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		StartURL:             getEnv("START_URL", "about:blank"),
		AllowedDomains:       splitCSV(os.Getenv("ALLOWED_DOMAINS")),
		ConfirmationKeywords: splitCSV(getEnv("CONFIRMATION_KEYWORDS", "submit,enroll,pay,send,delete,remove")),
		Headless:             getBoolEnv("AGENT_HEADLESS", true),
		ViewportWidth:        getIntEnv("VIEWPORT_WIDTH", 1280),
		ViewportHeight:       getIntEnv("VIEWPORT_HEIGHT", 800),
		LLMProvider:          getEnv("LLM_PROVIDER", "anthropic"),
		LLMMaxRequestSize:    getIntEnv("LLM_MAX_REQUEST_SIZE", 200000),
		LLMDefaultMaxTokens:  getIntEnv("LLM_DEFAULT_MAX_TOKENS", 900),
		ListenPort:           getEnv("PORT", "8080"),
		DBPath:               getEnv("DB_PATH", "./data/pilot.db"),
		ArtifactsDir:         getEnv("ARTIFACTS_DIR", "./data/artifacts"),

		ScoutCaptchaWait: time.Duration(getIntEnv("SCOUT_CAPTCHA_WAIT_SECONDS", 120)) * time.Second,
		StepCap:          getIntEnv("STEP_CAP", 50),
		ScrollCap:        getIntEnv("SCROLL_CAP", 5),
		HistoryWindow:    getIntEnv("HISTORY_WINDOW", 5),
	}
}

func getEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

package provider

import (
	"fmt"
	"strings"
	"time"
)

type Name string

const (
	NameOpenAI Name = "openai"
	NameGemini Name = "gemini"
)

func ParseName(s string) (Name, error) {
	switch Name(strings.ToLower(strings.TrimSpace(s))) {
	case NameOpenAI, "":
		return NameOpenAI, nil
	case NameGemini:
		return NameGemini, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// Config describes one LLM endpoint and how calls against it are paced and retried.
type Config struct {
	Name                     Name
	BaseURL                  string
	APIKey                   string
	Model                    string
	MaxScreenshotsPerRequest int
	ChunkDelay               time.Duration
	StreamIdleTimeout        time.Duration
	Timeout                  time.Duration
	MaxAttempts              int
	RetryBaseDelay           time.Duration
	Stream                   bool
	MaxTokens                int
	Temperature              float64
}

func DefaultConfig() Config {
	return Config{
		Name:                     NameOpenAI,
		BaseURL:                  "https://api.openai.com",
		Model:                    "gpt-4o-mini",
		MaxScreenshotsPerRequest: 15,
		ChunkDelay:               time.Second,
		StreamIdleTimeout:        30 * time.Second,
		Timeout:                  120 * time.Second,
		MaxAttempts:              3,
		RetryBaseDelay:           time.Second,
		MaxTokens:                4096,
		Temperature:              0.2,
	}
}

func DefaultBaseURL(name Name) string {
	if name == NameGemini {
		return "https://generativelanguage.googleapis.com"
	}
	return "https://api.openai.com"
}

func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	if cfg.Name == "" {
		cfg.Name = NameOpenAI
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL(cfg.Name)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxScreenshotsPerRequest <= 0 {
		cfg.MaxScreenshotsPerRequest = defaults.MaxScreenshotsPerRequest
	}
	if cfg.StreamIdleTimeout <= 0 {
		cfg.StreamIdleTimeout = defaults.StreamIdleTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryBaseDelay < 0 {
		cfg.RetryBaseDelay = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}

	return cfg
}

// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

// Provider names accepted by PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

type Config struct {
	// Provider selects the chat-completion backend.
	Provider string `envconfig:"PROVIDER" default:"openai"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	GroqAPIKey   string `envconfig:"GROQ_API_KEY"`
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	// Model overrides the provider's default model.
	Model string `envconfig:"MODEL"`
	// BaseURL overrides the provider's API endpoint. Ignored for gemini.
	BaseURL string `envconfig:"BASE_URL"`

	Temperature float64 `envconfig:"TEMPERATURE" default:"0.2"`
	MaxTokens   int     `envconfig:"MAX_TOKENS" default:"800"`

	Workers        int           `envconfig:"WORKERS" default:"1"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"2"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"90s"`

	// Delay is the mandatory pause between items, 1s to 30s.
	Delay       time.Duration `envconfig:"DELAY" default:"2s"`
	RetryFailed bool          `envconfig:"RETRY_FAILED" default:"false"`
	FailFast    bool          `envconfig:"FAIL_FAST" default:"false"`

	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"12s"`
	TextBudget   int           `envconfig:"TEXT_BUDGET" default:"16000"`

	CachePath string        `envconfig:"CACHE_PATH"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"24h"`

	// ProfilePath points at a YAML tone profile. Empty uses the built-in one.
	ProfilePath string `envconfig:"PROFILE_PATH"`
}

// Load reads the environment into a Config. It does not validate: callers
// may still override fields from CLI flags before calling Validate.
func Load() (*Config, error) {
	// Env vars may come from the shell instead, so a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderGroq, ProviderGemini:
	default:
		return fmt.Errorf("%w: PROVIDER %q (want openai, groq or gemini)", ErrInvalid, c.Provider)
	}
	if c.APIKey() == "" {
		return fmt.Errorf("%w: API key for provider %s", ErrMissingRequired, c.Provider)
	}
	if c.Delay < time.Second || c.Delay > 30*time.Second {
		return fmt.Errorf("%w: DELAY %s (want 1s to 30s)", ErrInvalid, c.Delay)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: WORKERS %d", ErrInvalid, c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: MAX_RETRIES %d", ErrInvalid, c.MaxRetries)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: TEMPERATURE %g", ErrInvalid, c.Temperature)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("%w: MAX_TOKENS %d", ErrInvalid, c.MaxTokens)
	}
	return nil
}

// APIKey returns the key for the selected provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case ProviderGroq:
		return c.GroqAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

// ResolvedModel returns Model, or the provider default when unset.
func (c *Config) ResolvedModel() string {
	if c.Model != "" {
		return c.Model
	}
	switch c.Provider {
	case ProviderGroq:
		return "llama-3.3-70b-versatile"
	case ProviderGemini:
		return "gemini-2.0-flash"
	default:
		return "gpt-4o-mini"
	}
}

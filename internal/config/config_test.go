package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shpitdev/outreach-enricher/internal/config"
)

func valid() config.Config {
	return config.Config{
		Provider:     config.ProviderOpenAI,
		OpenAIAPIKey: "sk-test",
		Temperature:  0.2,
		MaxTokens:    800,
		Workers:      1,
		Delay:        2 * time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		errIs  error
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{
			name:   "unknown provider",
			mutate: func(c *config.Config) { c.Provider = "anthropic" },
			errIs:  config.ErrInvalid,
		},
		{
			name:   "missing key for provider",
			mutate: func(c *config.Config) { c.Provider = config.ProviderGroq },
			errIs:  config.ErrMissingRequired,
		},
		{
			name:   "delay below floor",
			mutate: func(c *config.Config) { c.Delay = 500 * time.Millisecond },
			errIs:  config.ErrInvalid,
		},
		{
			name:   "delay above ceiling",
			mutate: func(c *config.Config) { c.Delay = time.Minute },
			errIs:  config.ErrInvalid,
		},
		{
			name:   "zero workers",
			mutate: func(c *config.Config) { c.Workers = 0 },
			errIs:  config.ErrInvalid,
		},
		{
			name:   "temperature out of range",
			mutate: func(c *config.Config) { c.Temperature = 3 },
			errIs:  config.ErrInvalid,
		},
		{
			name:   "zero max tokens",
			mutate: func(c *config.Config) { c.MaxTokens = 0 },
			errIs:  config.ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errIs == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.errIs) {
				t.Fatalf("got %v, want %v", err, tt.errIs)
			}
		})
	}
}

func TestConfig_APIKeyFollowsProvider(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		OpenAIAPIKey: "openai-key",
		GroqAPIKey:   "groq-key",
		GeminiAPIKey: "gemini-key",
	}
	for provider, want := range map[string]string{
		config.ProviderOpenAI: "openai-key",
		config.ProviderGroq:   "groq-key",
		config.ProviderGemini: "gemini-key",
	} {
		cfg.Provider = provider
		if got := cfg.APIKey(); got != want {
			t.Errorf("APIKey(%s) = %q, want %q", provider, got, want)
		}
	}
}

func TestConfig_ResolvedModel(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Provider: config.ProviderGroq}
	if got := cfg.ResolvedModel(); got == "" {
		t.Fatalf("expected a provider default model")
	}
	cfg.Model = "custom-model"
	if got := cfg.ResolvedModel(); got != "custom-model" {
		t.Fatalf("override ignored: %q", got)
	}
}

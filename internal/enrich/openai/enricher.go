// Package openai enriches website text through an OpenAI-compatible
// chat-completions endpoint (OpenAI or Groq).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/shpitdev/outreach-enricher/internal/enrich"
	"github.com/shpitdev/outreach-enricher/internal/profile"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL selects the provider endpoint. Defaults to OpenAI; use
	// GroqBaseURL for Groq.
	BaseURL string

	Temperature float64
	MaxTokens   int

	// Profile supplies the analyst prompt, tones and spam-word table.
	// Defaults to profile.Default().
	Profile *profile.Profile

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

type Enricher struct {
	client      *Client
	model       string
	temperature float64
	maxTokens   int
	profile     *profile.Profile
}

func New(cfg Config) (*Enricher, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Profile == nil {
		cfg.Profile = profile.Default()
	}
	return &Enricher{
		client:      NewClient(cfg.BaseURL, strings.TrimSpace(cfg.APIKey), cfg.HTTPClient),
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		profile:     cfg.Profile,
	}, nil
}

type insightSchema struct {
	Summary     string   `json:"summary"`
	Products    []string `json:"products"`
	TargetRoles []string `json:"target_roles"`
	Industries  []string `json:"industries"`
	Regions     []string `json:"regions"`
}

type emailSchema struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Enrich runs one insight call plus one email call per configured tone.
// Tone calls are independent: a failed tone yields an empty Message for that
// tone while the row still succeeds on the insight result.
func (e *Enricher) Enrich(ctx context.Context, identifier, text string) (enrich.Result, error) {
	base := enrich.Result{Model: e.model}.Normalize()
	if strings.TrimSpace(text) == "" {
		return base, errors.New("empty website text")
	}

	reply, err := e.client.ChatCompletion(ctx, e.model, e.insightSystemPrompt(), insightUserPrompt(identifier, text), e.temperature, e.maxTokens)
	if err != nil {
		return base, classifyErr(err)
	}

	var parsed insightSchema
	if err := enrich.DecodeObject(reply, &parsed); err != nil {
		return base, err
	}

	out := enrich.Result{
		Summary:     strings.TrimSpace(parsed.Summary),
		Products:    trimAll(parsed.Products),
		TargetRoles: trimAll(parsed.TargetRoles),
		Industries:  trimAll(parsed.Industries),
		Regions:     trimAll(parsed.Regions),
		Model:       e.model,
	}.Normalize()

	for _, tone := range e.profile.Tones {
		msg := enrich.Message{Tone: tone.Name}
		reply, err := e.client.ChatCompletion(ctx, e.model, emailSystemPrompt(tone), emailUserPrompt(identifier, out), e.temperature, e.maxTokens)
		if err == nil {
			var email emailSchema
			if err := enrich.DecodeObject(reply, &email); err == nil {
				msg.Subject = strings.TrimSpace(email.Subject)
				msg.Body = e.profile.Sanitize(strings.TrimSpace(email.Body))
			}
		}
		out.Emails = append(out.Emails, msg)
	}
	return out, nil
}

func (e *Enricher) insightSystemPrompt() string {
	return strings.TrimSpace(e.profile.SystemPrompt) + "\n" +
		"Return ONLY a single JSON object with these keys: " +
		"summary (string), products (list of strings), target_roles (list of strings), " +
		"industries (list of strings), regions (list of strings). " +
		"If a field cannot be determined, use an empty string or empty list. Do not include extra keys."
}

func insightUserPrompt(identifier, text string) string {
	return fmt.Sprintf("URL: %s\n\nWebsite text excerpt:\n%s\n\nReturn ONLY valid JSON.", identifier, text)
}

func emailSystemPrompt(tone profile.Tone) string {
	return "You write short cold outreach emails based on a structured company profile. " +
		"Tone: " + tone.Name + ". " + strings.TrimSpace(tone.Instruction) + " " +
		"The body must start with 'Hello,' and contain 3-5 bullet points each on its own line starting with '- '. " +
		"Return ONLY a single JSON object with keys: subject (string), body (string)."
}

func emailUserPrompt(identifier string, r enrich.Result) string {
	return fmt.Sprintf(
		"Company website: %s\nSummary: %s\nProducts: %s\nTarget roles: %s\nIndustries: %s\nRegions: %s\n\nReturn ONLY valid JSON.",
		identifier,
		r.Summary,
		strings.Join(r.Products, ", "),
		strings.Join(r.TargetRoles, ", "),
		strings.Join(r.Industries, ", "),
		strings.Join(r.Regions, ", "),
	)
}

// classifyErr wraps retryable provider failures so the worker pool applies
// backoff: rate limits, server errors and temporary network conditions.
func classifyErr(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode/100 == 5 {
			return &enrich.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &enrich.TransientError{Err: err}
	}
	return err
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

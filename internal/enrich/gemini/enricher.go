// Package gemini enriches website text through the Gemini API with
// structured-output schemas.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/shpitdev/outreach-enricher/internal/enrich"
	"github.com/shpitdev/outreach-enricher/internal/profile"
	"google.golang.org/genai"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	Temperature float64
	MaxTokens   int

	// Profile supplies the analyst prompt, tones and spam-word table.
	Profile *profile.Profile
}

type Enricher struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
	profile     *profile.Profile
}

func New(ctx context.Context, cfg Config) (*Enricher, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("gemini model is required")
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

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Enricher{
		client:      client,
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

var insightOutputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary":      {Type: genai.TypeString},
		"products":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"target_roles": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"industries":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"regions":      {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"summary", "products", "target_roles", "industries", "regions"},
}

var emailOutputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"subject": {Type: genai.TypeString},
		"body":    {Type: genai.TypeString},
	},
	Required: []string{"subject", "body"},
}

// Enrich runs one structured insight call plus one call per configured tone.
func (e *Enricher) Enrich(ctx context.Context, identifier, text string) (enrich.Result, error) {
	base := enrich.Result{Model: e.model}.Normalize()
	if strings.TrimSpace(text) == "" {
		return base, errors.New("empty website text")
	}

	reply, err := e.generate(ctx, insightPrompt(e.profile, identifier, text), insightOutputSchema)
	if err != nil {
		return base, classifyErr(err)
	}

	var parsed insightSchema
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		return base, &enrich.ParseError{Raw: reply, Err: err}
	}

	out := enrich.Result{
		Summary:     strings.TrimSpace(parsed.Summary),
		Products:    parsed.Products,
		TargetRoles: parsed.TargetRoles,
		Industries:  parsed.Industries,
		Regions:     parsed.Regions,
		Model:       e.model,
	}.Normalize()

	for _, tone := range e.profile.Tones {
		msg := enrich.Message{Tone: tone.Name}
		reply, err := e.generate(ctx, emailPrompt(tone, identifier, out), emailOutputSchema)
		if err == nil {
			var email emailSchema
			if err := json.Unmarshal([]byte(reply), &email); err == nil {
				msg.Subject = strings.TrimSpace(email.Subject)
				msg.Body = e.profile.Sanitize(strings.TrimSpace(email.Body))
			}
		}
		out.Emails = append(out.Emails, msg)
	}
	return out, nil
}

func (e *Enricher) generate(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	temp := float32(e.temperature)
	maxTokens := int32(e.maxTokens)
	resp, err := e.client.Models.GenerateContent(
		ctx,
		e.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			Temperature:      &temp,
			MaxOutputTokens:  maxTokens,
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func insightPrompt(p *profile.Profile, identifier, text string) string {
	return strings.TrimSpace(p.SystemPrompt) + "\n\n" +
		fmt.Sprintf("URL: %s\n\nWebsite text excerpt:\n%s", identifier, text)
}

func emailPrompt(tone profile.Tone, identifier string, r enrich.Result) string {
	return "Write a short cold outreach email based on this company profile. " +
		"Tone: " + tone.Name + ". " + strings.TrimSpace(tone.Instruction) + " " +
		"The body must start with 'Hello,' and contain 3-5 bullet points each on its own line starting with '- '.\n\n" +
		fmt.Sprintf(
			"Company website: %s\nSummary: %s\nProducts: %s\nTarget roles: %s\nIndustries: %s\nRegions: %s",
			identifier,
			r.Summary,
			strings.Join(r.Products, ", "),
			strings.Join(r.TargetRoles, ", "),
			strings.Join(r.Industries, ", "),
			strings.Join(r.Regions, ", "),
		)
}

func classifyErr(err error) error {
	// Wrap transient failures so the worker pool will retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
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

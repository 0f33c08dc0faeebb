// Package profile holds the prompt/tone configuration for a run: which email
// tones to generate, the analyst instructions, and the spam-word substitution
// table applied to generated bodies.
package profile

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tone is one email variant to generate per website.
type Tone struct {
	Name string `yaml:"name"`
	// Instruction is appended to the email prompt to steer the voice.
	Instruction string `yaml:"instruction"`
}

// Profile is the full prompt configuration.
type Profile struct {
	// SystemPrompt primes the insight extraction call.
	SystemPrompt string `yaml:"system_prompt"`
	Tones        []Tone `yaml:"tones"`
	// SpamWords maps flagged words to safer substitutes, matched
	// case-insensitively on word boundaries in generated email bodies.
	SpamWords map[string]string `yaml:"spam_words"`

	spamRe map[string]*regexp.Regexp
}

const defaultYAML = `
system_prompt: |
  You are a concise B2B analyst. From the website text, detect products or
  services, industry, target audience roles, and regions served. Return ONLY
  valid JSON.
tones:
  - name: professional
    instruction: Formal and respectful. No exclamation marks. Lead with the business outcome.
  - name: friendly
    instruction: Warm and conversational, but still concise. One light personal touch at most.
spam_words:
  free: complimentary
  guarantee: commitment
  "act now": when it suits you
  urgent: timely
`

// Default returns the built-in profile.
func Default() *Profile {
	p, err := parse([]byte(defaultYAML))
	if err != nil {
		// The default profile is a compile-time constant; a parse failure is
		// a programming error.
		panic(err)
	}
	return p
}

// Load reads a profile from a YAML file. Missing sections fall back to the
// defaults so a file can override just the tones or just the spam table.
func Load(path string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	def := Default()
	if strings.TrimSpace(p.SystemPrompt) == "" {
		p.SystemPrompt = def.SystemPrompt
	}
	if len(p.Tones) == 0 {
		p.Tones = def.Tones
	}
	if len(p.SpamWords) == 0 {
		p.SpamWords = def.SpamWords
		p.spamRe = def.spamRe
	}
	return p, nil
}

func parse(b []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	for _, t := range p.Tones {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("tone with empty name")
		}
	}
	p.spamRe = make(map[string]*regexp.Regexp, len(p.SpamWords))
	for word := range p.SpamWords {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("spam word %q: %w", word, err)
		}
		p.spamRe[word] = re
	}
	return &p, nil
}

// Sanitize applies the spam-word substitution table to an email body.
// Replacements preserve nothing of the original casing; the table's values
// are used verbatim.
func (p *Profile) Sanitize(body string) string {
	out := body
	for word, re := range p.spamRe {
		out = re.ReplaceAllString(out, p.SpamWords[word])
	}
	return out
}

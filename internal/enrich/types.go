package enrich

import (
	"context"

	"github.com/shpitdev/outreach-enricher/pkg/pipeline/core"
)

// Message is one generated outreach email draft.
type Message struct {
	Tone    string `json:"tone"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Result is the structured insight output for a single website.
//
// Every field is always present with a type-correct default: list fields are
// non-nil, strings are empty. A malformed remote reply degrades to the zero
// Result plus an error, never a partially typed one.
type Result struct {
	Summary     string   `json:"summary"`
	Products    []string `json:"products"`
	TargetRoles []string `json:"target_roles"`
	Industries  []string `json:"industries"`
	Regions     []string `json:"regions"`

	Emails []Message `json:"emails"`

	// Model records which model produced the result, for the audit column.
	Model string `json:"model"`
}

// Normalize replaces nil slices so downstream serialization never emits null.
func (r Result) Normalize() Result {
	if r.Products == nil {
		r.Products = []string{}
	}
	if r.TargetRoles == nil {
		r.TargetRoles = []string{}
	}
	if r.Industries == nil {
		r.Industries = []string{}
	}
	if r.Regions == nil {
		r.Regions = []string{}
	}
	if r.Emails == nil {
		r.Emails = []Message{}
	}
	return r
}

// Enricher turns a website's extracted text into a structured Result.
type Enricher interface {
	Enrich(ctx context.Context, identifier, text string) (Result, error)
}

// TransientError marks an error as retryable by the worker pool.
type TransientError = core.TransientError

// LimitedTransientError is a transient error with its own retry cap.
type LimitedTransientError = core.LimitedTransientError

package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError means a model reply did not contain a decodable JSON object.
// Raw keeps the reply for diagnostics; it is recorded, not logged verbatim.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("parse model reply: %v (raw: %s)", e.Err, raw)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DecodeObject parses a JSON object out of free-form model output into v.
// Models are not guaranteed to return pure JSON, so it first tries the slice
// between the first '{' and the last '}', then the whole string.
func DecodeObject(raw string, v any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), v); err == nil {
			return nil
		}
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), v); err != nil {
		return &ParseError{Raw: raw, Err: err}
	}
	return nil
}

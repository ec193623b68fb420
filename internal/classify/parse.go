package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseResult extracts the JSON answer from model output. Code fences and
// prose around the object are tolerated.
func ParseResult(text string) (*Result, error) {
	var raw struct {
		Category    string   `json:"category"`
		Subcategory string   `json:"subcategory"`
		Confidence  *float64 `json:"confidence"`
		Reasoning   string   `json:"reasoning"`
	}
	if err := DecodeJSON(text, &raw); err != nil {
		return nil, err
	}

	res := &Result{
		Category:    strings.TrimSpace(raw.Category),
		Subcategory: strings.TrimSpace(raw.Subcategory),
		Reasoning:   strings.TrimSpace(raw.Reasoning),
	}
	if raw.Confidence != nil {
		res.Confidence = clamp(*raw.Confidence)
	}
	return res, nil
}

// DecodeJSON unmarshals the outermost JSON object found in text into v.
func DecodeJSON(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object in %q", ErrInvalidResponse, abbreviate(text))
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func abbreviate(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

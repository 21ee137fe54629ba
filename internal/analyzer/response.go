package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseResponse decodes a model reply into a Result. Models occasionally wrap
// JSON in markdown fences despite instructions, so fences are stripped first.
// A malformed reply is a transient failure: the caller may retry.
func ParseResponse(raw string) (*Result, error) {
	text := strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(text, "```json"); ok {
		text = after
	} else if after, ok := strings.CutPrefix(text, "```"); ok {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	var res Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	if !res.Category.Valid() {
		return nil, fmt.Errorf("model returned unknown category %q", res.Category)
	}
	if res.Category != CategoryError && len(res.Items) == 0 {
		return nil, fmt.Errorf("model returned category %q with no items", res.Category)
	}
	return &res, nil
}

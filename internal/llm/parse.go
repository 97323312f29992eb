package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object out of a model response. Models often
// wrap structured output in markdown fences or surround it with prose, so
// the raw text is trimmed down to the outermost braces before parsing.
func ExtractJSON(raw string) ([]byte, error) {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	candidate := text[start : end+1]

	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	return []byte(candidate), nil
}

// DecodeJSON extracts and unmarshals a JSON object from a model response.
func DecodeJSON(raw string, v interface{}) error {
	data, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal model output: %w", err)
	}
	return nil
}

package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON parses the first JSON object in a model reply. Models often wrap
// output in markdown fences or add a sentence before it.
func DecodeJSON(reply string, v any) error {
	s := strings.TrimSpace(reply)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return fmt.Errorf("llm reply contains no json object")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("decoding llm json: %w", err)
	}
	return nil
}

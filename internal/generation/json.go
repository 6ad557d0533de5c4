package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// StripCodeFences removes a markdown code-fence wrapper from model output.
// Handles ```json ... ``` and bare ``` ... ``` blocks.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ExtractJSON extracts the first balanced JSON object or array from a
// potentially mixed-format response. Returns "" when none is found.
func ExtractJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return ""
	}

	startChar := rune(text[start])
	endChar := '}'
	if startChar == '[' {
		endChar = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := rune(text[i])

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if ch == '{' || ch == '[' {
			depth++
		} else if ch == '}' || ch == ']' {
			depth--
			if depth == 0 && ch == endChar {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ParseObject decodes model output into v. It strips code fences, extracts
// the first balanced JSON value, and falls back to jsonrepair on syntax
// errors before reporting ErrMalformedJSON.
func ParseObject(text string, v interface{}) error {
	candidate := ExtractJSON(StripCodeFences(text))
	if candidate == "" {
		return fmt.Errorf("%w: no JSON value in output %q", ErrMalformedJSON, truncateForLog(text, 120))
	}

	err := json.Unmarshal([]byte(candidate), v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr == nil {
			if err2 := json.Unmarshal([]byte(fixed), v); err2 == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
}

package common

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON cleans and unmarshals a JSON string into a type T.
// It handles common LLM quirks like surrounding markdown or extra text, and
// accepts either a top-level object or a top-level array.
func ParseJSON[T any](response string) (T, error) {
	var zero T
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return zero, err
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, truncate(jsonStr, 512))
	}

	return result, nil
}

// ExtractJSON returns the outermost JSON object or array in s. The opening
// bracket that appears first decides which.
func ExtractJSON(s string) (string, error) {
	s = stripFences(s)

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return "", fmt.Errorf("no JSON value found in response (missing '{' or '[')")
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", fmt.Errorf("unterminated JSON value in response")
	}
	return s[start : end+1], nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

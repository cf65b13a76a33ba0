package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agenthands/driftwatch/internal/core/common"
)

// ErrMalformedResponse means the backend output had no usable findings list.
var ErrMalformedResponse = errors.New("malformed analyzer response")

// rawFinding is one object of the backend's findings list. Field aliases
// cover the older suggestion format.
type rawFinding struct {
	BlockID         string          `json:"block_id"`
	Claim           string          `json:"claim"`
	TriggeringText  string          `json:"triggering_text"`
	Confidence      json.RawMessage `json:"confidence"`
	ConfidenceScore json.RawMessage `json:"confidence_score"`
	SuggestedText   string          `json:"suggested_text"`
	SuggestedEdit   string          `json:"suggested_edit"`
	CurrentText     string          `json:"current_text"`
	ConflictingText string          `json:"conflicting_text"`
	Reasoning       string          `json:"reasoning"`
	SourceRef       string          `json:"source_ref"`
}

// parseResponse extracts the raw finding objects. It accepts a bare list or
// an object holding the list under "findings", "conflicts" or "suggestions".
// Each element is returned undecoded so one bad object cannot spoil the rest.
func parseResponse(response string) ([]json.RawMessage, error) {
	if strings.Contains(response, "No suggestions found") && !strings.ContainsAny(response, "{[") {
		return nil, nil
	}

	raw, err := common.ParseJSON[json.RawMessage](response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if len(raw) > 0 && raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return list, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for _, key := range []string{"findings", "conflicts", "suggestions"} {
		body, ok := envelope[key]
		if !ok {
			continue
		}
		if string(body) == "null" {
			return nil, nil
		}
		var list []json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("%w: %q is not a list", ErrMalformedResponse, key)
		}
		return list, nil
	}
	return nil, fmt.Errorf("%w: no findings list", ErrMalformedResponse)
}

func decodeFinding(raw json.RawMessage) (rawFinding, error) {
	var f rawFinding
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, err
	}
	if f.Claim == "" {
		f.Claim = f.TriggeringText
	}
	if f.SuggestedText == "" {
		f.SuggestedText = f.SuggestedEdit
	}
	if f.CurrentText == "" {
		f.CurrentText = f.ConflictingText
	}
	if len(f.Confidence) == 0 {
		f.Confidence = f.ConfidenceScore
	}
	f.BlockID = strings.Trim(strings.TrimSpace(f.BlockID), "[]`\"")
	f.SourceRef = strings.Trim(strings.TrimSpace(f.SourceRef), "[]`\"")
	return f, nil
}

var confidenceLabels = map[string]float64{
	"high":   0.9,
	"medium": 0.6,
	"low":    0.3,
}

// parseConfidence accepts a number, a numeric string or a High/Medium/Low
// label. Out-of-range values are an error, not clamped.
func parseConfidence(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("missing confidence")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("confidence is neither number nor string: %s", raw)
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if v, ok := confidenceLabels[s]; ok {
			return v, nil
		}
		n, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("unrecognised confidence %q", s)
		}
	}
	if n < 0 || n > 1 {
		return 0, fmt.Errorf("confidence %v outside [0,1]", n)
	}
	return n, nil
}

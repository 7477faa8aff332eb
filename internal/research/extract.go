package research

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON returns the outermost JSON object or array in text. The model
// tends to wrap its answer in prose or code fences.
func extractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// parseResult decodes the model's answer. A bare array is taken as the list
// of placements.
func parseResult(text string) (*Result, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var res Result
	if raw[0] == '[' {
		if err := json.Unmarshal([]byte(raw), &res.Results); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
		}
	} else if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	if res.Results == nil {
		res.Results = []Placement{}
	}
	return &res, nil
}

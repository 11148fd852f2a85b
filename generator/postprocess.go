package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"brick_model_generator/model"
)

// PostProcess decodes the model reply into a LegoSet. Code fences around the JSON are
// tolerated; an empty or undecodable reply is an error.
func PostProcess(raw string) (*model.LegoSet, error) {
	text := stripFences(strings.TrimSpace(raw))
	if text == "" {
		return nil, errors.New("model returned an empty JSON reply")
	}

	var set model.LegoSet
	if err := json.Unmarshal([]byte(text), &set); err != nil {
		return nil, fmt.Errorf("model reply is not a valid model JSON: %w", err)
	}
	return &set, nil
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

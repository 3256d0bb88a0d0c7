package taskloop

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseResponse extracts a PromptResponse from model output. Surrounding
// prose and markdown code fences are ignored. The reply must contain a JSON
// object with a non-empty command.name.
func ParseResponse(text string) (PromptResponse, error) {
	obj, err := extractObject(text)
	if err != nil {
		return PromptResponse{}, err
	}

	name := gjson.Get(obj, "command.name")
	if !name.Exists() || name.Type != gjson.String || strings.TrimSpace(name.Str) == "" {
		return PromptResponse{}, fmt.Errorf("response is missing command.name")
	}

	input := json.RawMessage("{}")
	if in := gjson.Get(obj, "command.input"); in.Exists() && in.Type != gjson.Null {
		input = json.RawMessage(in.Raw)
	}

	return PromptResponse{
		Thoughts: Thoughts{
			Thought:   gjson.Get(obj, "thoughts.thought").String(),
			Reasoning: gjson.Get(obj, "thoughts.reasoning").String(),
			Plan:      gjson.Get(obj, "thoughts.plan").String(),
		},
		Command: CommandCall{
			Name:  strings.TrimSpace(name.Str),
			Input: input,
		},
	}, nil
}

func extractObject(text string) (string, error) {
	text = stripCodeFence(strings.TrimSpace(text))
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("response does not contain a JSON object")
	}
	obj := text[start : end+1]
	if !gjson.Valid(obj) {
		return "", fmt.Errorf("response is not valid JSON")
	}
	return obj, nil
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.Index(text, "\n"); i >= 0 {
		text = text[i+1:]
	} else {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSpace(text), "```")
}

// inputField returns input.field when it is present, otherwise the raw input.
func inputField(input json.RawMessage, field string) string {
	value := gjson.GetBytes(input, field)
	if value.Exists() {
		return value.String()
	}
	if len(input) == 0 {
		return ""
	}
	return string(input)
}

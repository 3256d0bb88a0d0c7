package taskloop

import (
	"context"
	"encoding/json"
	"strings"
)

// Command is a named capability the model can invoke. Input is the raw JSON
// object from the model's command.input field. The result is rendered into
// history as text: strings verbatim, everything else as JSON.
type Command interface {
	Execute(ctx context.Context, input json.RawMessage) (any, error)
}

// CommandFunc adapts an ordinary function to the Command interface.
type CommandFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Execute calls f.
func (f CommandFunc) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	return f(ctx, input)
}

// CommandFactory builds a command instance from its per-manager configuration.
type CommandFactory func(ctx context.Context, config map[string]any) (Command, error)

// CommandUsage is the model-facing description of a command.
type CommandUsage struct {
	Name   string `json:"name" toml:"name"`
	Use    string `json:"use" toml:"use"`
	Input  string `json:"input,omitempty" toml:"input"`
	Output string `json:"output,omitempty" toml:"output"`

	// InputSchema is an optional JSON Schema document. When set, command
	// input is validated against it before Execute is called.
	InputSchema string `json:"input_schema,omitempty" toml:"input_schema"`
}

// CommandConfig selects a registered command for a manager along with the
// configuration handed to its factory.
type CommandConfig struct {
	Name   string
	Config map[string]any
}

// Reserved command names. The loop handles these itself.
const (
	AskCommand         = "ask"
	FinalAnswerCommand = "finalAnswer"
)

var reservedNames = map[string]bool{
	"":                                true,
	CanonicalName(AskCommand):         true,
	CanonicalName(FinalAnswerCommand): true,
}

// Usage blocks for the reserved commands. They always lead the usage text.
var (
	AskUsage = CommandUsage{
		Name:   AskCommand,
		Use:    "ask the user a question and wait for their response",
		Input:  `"question": "<question to ask>"`,
		Output: "users answer",
	}
	FinalAnswerUsage = CommandUsage{
		Name:  FinalAnswerCommand,
		Use:   "generate an answer for the user",
		Input: `"answer": "<final answer>"`,
	}
)

// CanonicalName is the single key function for command names.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsReserved reports whether name, in any casing, is reserved.
func IsReserved(name string) bool {
	return reservedNames[CanonicalName(name)]
}

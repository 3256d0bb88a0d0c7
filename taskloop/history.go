package taskloop

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/selfinstruct/unifiedllm"
)

// Thoughts is the model's stated reasoning. It is kept for observability and
// never affects dispatch.
type Thoughts struct {
	Thought   string `json:"thought"`
	Reasoning string `json:"reasoning"`
	Plan      string `json:"plan"`
}

// CommandCall is the command the model asked to run.
type CommandCall struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// PromptResponse is the structured reply the model is instructed to produce.
type PromptResponse struct {
	Thoughts Thoughts    `json:"thoughts"`
	Command  CommandCall `json:"command"`
}

// String renders the response as compact JSON, the form it takes in prompts.
func (r PromptResponse) String() string {
	if len(r.Command.Input) == 0 {
		r.Command.Input = json.RawMessage("{}")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"command":{"name":%q}}`, r.Command.Name)
	}
	return string(data)
}

// Turn is one completed loop iteration: the user message that preceded it,
// if any, the model's response and the observed result of the command.
type Turn struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserInput string         `json:"user_input,omitempty"`
	Response  PromptResponse `json:"response"`
	Result    string         `json:"result,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// NewTurn creates a Turn for a model response.
func NewTurn(userInput string, response PromptResponse) Turn {
	return Turn{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		UserInput: userInput,
		Response:  response,
	}
}

// HasResult reports whether the turn executed a configured command.
func (t Turn) HasResult() bool {
	name := CanonicalName(t.Response.Command.Name)
	return !reservedNames[name]
}

// Messages renders the turn as prompt messages: the user input, the model's
// JSON reply and the command result.
func (t Turn) Messages() []unifiedllm.Message {
	var messages []unifiedllm.Message
	if t.UserInput != "" {
		messages = append(messages, unifiedllm.UserMessage(t.UserInput))
	}
	messages = append(messages, unifiedllm.AssistantMessage(t.Response.String()))
	if t.HasResult() {
		messages = append(messages, unifiedllm.UserMessage(formatResult(t.Response.Command.Name, t.Result, t.IsError)))
	}
	return messages
}

func formatResult(name, result string, isError bool) string {
	if isError {
		return fmt.Sprintf("Command %s returned an error: %s", name, result)
	}
	if result == "" {
		result = "none"
	}
	return fmt.Sprintf("Command %s returned: %s", name, result)
}

// ConvertHistoryToMessages renders turns in order.
func ConvertHistoryToMessages(history []Turn) []unifiedllm.Message {
	var messages []unifiedllm.Message
	for _, turn := range history {
		messages = append(messages, turn.Messages()...)
	}
	return messages
}

// loadHistory reads the task history from memory. Histories restored from a
// serialized snapshot arrive as generic JSON and are decoded again.
func loadHistory(memory Memory) ([]Turn, error) {
	switch v := memory.Get(TaskHistoryKey).(type) {
	case nil:
		return nil, nil
	case []Turn:
		history := make([]Turn, len(v))
		copy(history, v)
		return history, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: task history is not serializable: %w", ErrState, err)
		}
		var history []Turn
		if err := json.Unmarshal(data, &history); err != nil {
			return nil, fmt.Errorf("%w: task history is malformed: %w", ErrState, err)
		}
		return history, nil
	}
}

// isInTask reads the active-task flag. Any value other than true, including
// a missing key, means no task is active.
func isInTask(memory Memory) bool {
	active, _ := memory.Get(InTaskKey).(bool)
	return active
}

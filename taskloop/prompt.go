package taskloop

import (
	"fmt"
	"strings"

	"github.com/martinemde/selfinstruct/unifiedllm"
)

const baseRules = `- Respond only with a single JSON object in the response format below, with no other text.
- Only use the commands listed below. Use ask when you need more information from the user.
- Use finalAnswer once you can answer the user's request.`

const responseFormat = `{"thoughts":{"thought":"<your current thought>","reasoning":"<self reflect on why you made this decision>","plan":"- short bulleted\n- list that conveys\n- long-term plan"},"command":{"name":"<command name>","input":{"<name>":"<value>"}}}`

// PromptBuilder assembles the messages sent to the model on each iteration.
type PromptBuilder struct {
	Prompt       string
	Rules        []string
	Usage        string
	UsageTokens  int
	LeadResponse *PromptResponse
	Count        unifiedllm.TokenCounter
}

// BuiltPrompt is an assembled prompt and its measured size.
type BuiltPrompt struct {
	Messages []unifiedllm.Message
	Tokens   int
	Dropped  int
}

func (b *PromptBuilder) systemParts() (string, string) {
	var head strings.Builder
	head.WriteString(strings.TrimSpace(b.Prompt))
	head.WriteString("\n\nRules:\n")
	head.WriteString(baseRules)
	for _, rule := range b.Rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		head.WriteString("\n- ")
		head.WriteString(rule)
	}
	head.WriteString("\n\nCommands:\n")

	tail := "\nResponse format:\n" + responseFormat
	return head.String(), tail
}

// System returns the full system message text.
func (b *PromptBuilder) System() string {
	head, tail := b.systemParts()
	return head + b.Usage + tail
}

func (b *PromptBuilder) count(text string) int {
	if b.Count == nil {
		return unifiedllm.EstimateTokens(text)
	}
	return b.Count(text)
}

func (b *PromptBuilder) countMessages(messages []unifiedllm.Message) int {
	total := 0
	for _, msg := range messages {
		total += b.count(msg.TextContent())
	}
	return total
}

// Build assembles the prompt from the system text, the optional lead
// response, history, the pending user message and any trailing extras
// (corrective or warning messages). When budget is positive, the oldest turns
// are dropped until the prompt fits. The most recent turn is never dropped.
func (b *PromptBuilder) Build(history []Turn, pending string, extras []unifiedllm.Message, budget int) (BuiltPrompt, error) {
	head, tail := b.systemParts()
	fixed := b.count(head) + b.UsageTokens + b.count(tail)

	var lead []unifiedllm.Message
	if b.LeadResponse != nil {
		lead = append(lead, unifiedllm.AssistantMessage(b.LeadResponse.String()))
	}
	var trailing []unifiedllm.Message
	if pending != "" {
		trailing = append(trailing, unifiedllm.UserMessage(pending))
	}
	trailing = append(trailing, extras...)
	fixed += b.countMessages(lead) + b.countMessages(trailing)

	turnTokens := make([]int, len(history))
	total := fixed
	for i, turn := range history {
		turnTokens[i] = b.countMessages(turn.Messages())
		total += turnTokens[i]
	}

	dropped := 0
	if budget > 0 {
		for total > budget && len(history)-dropped > 1 {
			total -= turnTokens[dropped]
			dropped++
		}
		if total > budget {
			return BuiltPrompt{Tokens: total, Dropped: dropped}, &PromptTooLargeError{
				TaskError: TaskError{Message: fmt.Sprintf("prompt needs %d tokens but only %d are available", total, budget)},
				Tokens:    total,
				Limit:     budget,
			}
		}
	}

	messages := make([]unifiedllm.Message, 0, 1+len(lead)+len(history)*3+len(trailing))
	messages = append(messages, unifiedllm.SystemMessage(head+b.Usage+tail))
	messages = append(messages, lead...)
	messages = append(messages, ConvertHistoryToMessages(history[dropped:])...)
	messages = append(messages, trailing...)

	return BuiltPrompt{Messages: messages, Tokens: total, Dropped: dropped}, nil
}

func correctionMessages(raw string, reason error) []unifiedllm.Message {
	return []unifiedllm.Message{
		unifiedllm.AssistantMessage(raw),
		unifiedllm.UserMessage(fmt.Sprintf("Your last reply could not be used: %v. "+
			"Respond again with only a JSON object in the response format, and nothing else.", reason)),
	}
}

func unknownCommandMessages(response PromptResponse, usable []string) []unifiedllm.Message {
	return []unifiedllm.Message{
		unifiedllm.AssistantMessage(response.String()),
		unifiedllm.UserMessage(fmt.Sprintf("There is no command named %q. Use one of: %s.",
			response.Command.Name, strings.Join(usable, ", "))),
	}
}

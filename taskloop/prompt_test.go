package taskloop

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/selfinstruct/unifiedllm"
)

func wordCounter(text string) int {
	return len(strings.Fields(text))
}

func commandTurn(name, input, result string) Turn {
	turn := NewTurn("", PromptResponse{Command: CommandCall{Name: name, Input: json.RawMessage(input)}})
	turn.Result = result
	return turn
}

func TestPromptBuilderOrder(t *testing.T) {
	b := &PromptBuilder{
		Prompt: "Core instructions.",
		Usage:  FormatUsageBlock(nil),
		LeadResponse: &PromptResponse{
			Command: CommandCall{Name: "ask", Input: json.RawMessage(`{"question":"hi?"}`)},
		},
	}
	history := []Turn{commandTurn("clock", `{}`, "noon")}
	history[0].UserInput = "what time is it"

	built, err := b.Build(history, "thanks", []unifiedllm.Message{unifiedllm.UserMessage("extra")}, 0)
	require.NoError(t, err)

	roles := make([]unifiedllm.Role, len(built.Messages))
	texts := make([]string, len(built.Messages))
	for i, msg := range built.Messages {
		roles[i] = msg.Role
		texts[i] = msg.TextContent()
	}
	assert.Equal(t, []unifiedllm.Role{
		unifiedllm.RoleSystem,
		unifiedllm.RoleAssistant,
		unifiedllm.RoleUser,
		unifiedllm.RoleAssistant,
		unifiedllm.RoleUser,
		unifiedllm.RoleUser,
		unifiedllm.RoleUser,
	}, roles)
	assert.Equal(t, "what time is it", texts[2])
	assert.Equal(t, "Command clock returned: noon", texts[4])
	assert.Equal(t, "thanks", texts[5])
	assert.Equal(t, "extra", texts[6])

	system := texts[0]
	assert.True(t, strings.HasPrefix(system, "Core instructions."))
	assert.Less(t, strings.Index(system, "Rules:"), strings.Index(system, "Commands:"))
	assert.Less(t, strings.Index(system, "Commands:"), strings.Index(system, "Response format:"))
	assert.Contains(t, system, FormatUsage(AskUsage))
	assert.Equal(t, b.System(), system)
	assert.Zero(t, built.Dropped)
}

func TestPromptBuilderUsesCachedUsageTokens(t *testing.T) {
	b := &PromptBuilder{Prompt: "p", Usage: "ignored words here", UsageTokens: 1000, Count: wordCounter}
	built, err := b.Build(nil, "", nil, 0)
	require.NoError(t, err)
	assert.Greater(t, built.Tokens, 1000)
}

func TestPromptBuilderDropsOldestTurns(t *testing.T) {
	b := &PromptBuilder{Prompt: "p", Count: wordCounter}
	var history []Turn
	for i := 0; i < 10; i++ {
		history = append(history, commandTurn("echo", `{}`, fmt.Sprintf("marker%d %s", i, strings.Repeat("w ", 50))))
	}

	full, err := b.Build(history, "", nil, 0)
	require.NoError(t, err)

	budget := full.Tokens - 120
	built, err := b.Build(history, "", nil, budget)
	require.NoError(t, err)
	assert.LessOrEqual(t, built.Tokens, budget)
	assert.Equal(t, 3, built.Dropped)

	var all []string
	for _, msg := range built.Messages {
		all = append(all, msg.TextContent())
	}
	text := strings.Join(all, "\n")
	assert.NotContains(t, text, "marker2 ")
	assert.Contains(t, text, "marker3 ")
	assert.Contains(t, text, "marker9 ")
}

func TestPromptBuilderKeepsMostRecentTurn(t *testing.T) {
	b := &PromptBuilder{Prompt: "p", Count: wordCounter}
	history := []Turn{
		commandTurn("echo", `{}`, strings.Repeat("old ", 100)),
		commandTurn("echo", `{}`, strings.Repeat("new ", 100)),
	}

	_, err := b.Build(history, "", nil, 50)
	var tooLarge *PromptTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 50, tooLarge.Limit)
	assert.ErrorIs(t, err, ErrBudget)
}

func TestTruncateResult(t *testing.T) {
	assert.Equal(t, "short", TruncateResult("short", 10))
	assert.Equal(t, strings.Repeat("x", 100), TruncateResult(strings.Repeat("x", 100), 0))

	out := TruncateResult(strings.Repeat("a", 15)+strings.Repeat("b", 15), 10)
	assert.True(t, strings.HasPrefix(out, "aaaaa\n"))
	assert.True(t, strings.HasSuffix(out, "\nbbbbb"))
	assert.Contains(t, out, "20 characters were removed")
}

func TestTruncateResultKeepsRunesWhole(t *testing.T) {
	out := TruncateResult(strings.Repeat("é", 10), 7)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, "é\n"))
	assert.True(t, strings.HasSuffix(out, "\né"))
	assert.Contains(t, out, "16 characters were removed")

	mixed := TruncateResult("ab日本語の文字列cd", 9)
	assert.True(t, utf8.ValidString(mixed))
}

func TestRenderResult(t *testing.T) {
	assert.Equal(t, "", renderResult(nil))
	assert.Equal(t, "text", renderResult("text"))
	assert.Equal(t, "raw", renderResult([]byte("raw")))
	assert.Equal(t, `{"n":1}`, renderResult(map[string]int{"n": 1}))
	assert.Equal(t, "3", renderResult(3))
}

func TestDetectRepeat(t *testing.T) {
	same := []Turn{
		commandTurn("echo", `{"text":"a"}`, ""),
		commandTurn("ECHO", `{ "text" : "a" }`, ""),
		commandTurn("echo", `{"text":"a"}`, ""),
	}
	assert.True(t, DetectRepeat(same, 3))
	assert.False(t, DetectRepeat(same[:2], 3))
	assert.False(t, DetectRepeat(same, 1))

	varied := append([]Turn{}, same[:2]...)
	varied = append(varied, commandTurn("echo", `{"text":"b"}`, ""))
	assert.False(t, DetectRepeat(varied, 3))

	longer := append([]Turn{commandTurn("clock", `{}`, "")}, same...)
	assert.True(t, DetectRepeat(longer, 3))
	assert.False(t, DetectRepeat(longer, 4))
}

func TestEventEmitterNeverBlocks(t *testing.T) {
	e := NewEventEmitter(1)
	e.Emit("task", EventTaskStart, nil)
	e.Emit("task", EventTaskEnd, nil)
	e.Close()
	e.Close()
	e.Emit("task", EventError, nil)

	var kinds []EventKind
	for ev := range e.Events() {
		kinds = append(kinds, ev.Kind)
		assert.Equal(t, "task", ev.TaskID)
	}
	assert.Equal(t, []EventKind{EventTaskStart}, kinds)

	var nilEmitter *EventEmitter
	nilEmitter.Emit("task", EventTaskStart, nil)
	nilEmitter.Close()
}

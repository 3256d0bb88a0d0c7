package unifiedllm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		msg  Message
		role Role
	}{
		{SystemMessage("rules"), RoleSystem},
		{UserMessage("rules"), RoleUser},
		{AssistantMessage("rules"), RoleAssistant},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.role, tt.msg.Role)
			assert.Equal(t, []ContentPart{{Kind: ContentText, Text: "rules"}}, tt.msg.Content)
		})
	}
}

func TestTextContentSkipsOtherKinds(t *testing.T) {
	msg := Message{Role: RoleAssistant, Content: []ContentPart{
		TextPart(`{"command":`),
		{Kind: "image"},
		TextPart(`{"name":"ask"}}`),
	}}
	assert.Equal(t, `{"command":{"name":"ask"}}`, msg.TextContent())

	resp := Response{Message: msg}
	assert.Equal(t, msg.TextContent(), resp.Text())
	assert.Empty(t, Response{}.Text())
}

func TestUsageAdd(t *testing.T) {
	total := Usage{}
	for _, u := range []Usage{
		{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
		{InputTokens: 140, OutputTokens: 30, TotalTokens: 170},
	} {
		total = total.Add(u)
	}
	assert.Equal(t, Usage{InputTokens: 240, OutputTokens: 50, TotalTokens: 290}, total)
}

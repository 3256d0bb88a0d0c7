package unifiedllm

import (
	"context"
	"errors"
	"testing"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
)

// fakeLLM records what the adapter sends to gollm. Methods the adapter does
// not call panic through the nil embedded interface.
type fakeLLM struct {
	gollm.LLM
	model   string
	reply   string
	err     error
	prompts []*gollm.Prompt
	options map[string]any
}

func (f *fakeLLM) Generate(_ context.Context, prompt *llm.Prompt, _ ...llm.GenerateOption) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeLLM) SetOption(key string, value any) {
	if f.options == nil {
		f.options = map[string]any{}
	}
	f.options[key] = value
}

func (f *fakeLLM) GetModel() string { return f.model }

func TestGollmAdapterName(t *testing.T) {
	// Adapter creation may fail without network access or a real key; only
	// Name() behavior is checked here.
	for _, provider := range []string{"openai", "anthropic"} {
		adapter, err := NewGollmAdapter(provider, "test-key-not-real")
		if err != nil {
			t.Logf("skipping %s adapter creation (expected without real key): %v", provider, err)
			continue
		}
		if adapter.Name() != provider {
			t.Errorf("expected name %q, got %q", provider, adapter.Name())
		}
	}
}

func TestGollmAdapterTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	tests := []struct {
		errMsg    string
		check     func(error) bool
		retryable bool
	}{
		{"401 Unauthorized", func(err error) bool { _, ok := err.(*AuthenticationError); return ok }, false},
		{"invalid api key", func(err error) bool { _, ok := err.(*AuthenticationError); return ok }, false},
		{"403 Forbidden", func(err error) bool { _, ok := err.(*AccessDeniedError); return ok }, false},
		{"404 not found", func(err error) bool { _, ok := err.(*NotFoundError); return ok }, false},
		{"429 rate limit exceeded", func(err error) bool { _, ok := err.(*RateLimitError); return ok }, true},
		{"context length exceeded", func(err error) bool { _, ok := err.(*ContextLengthError); return ok }, false},
		{"500 internal server error", func(err error) bool { _, ok := err.(*ServerError); return ok }, true},
		{"timeout waiting for response", func(err error) bool { _, ok := err.(*RequestTimeoutError); return ok }, true},
		{"content filter triggered", func(err error) bool { _, ok := err.(*ContentFilterError); return ok }, false},
		{"something unknown", func(err error) bool { _, ok := err.(*ProviderError); return ok }, true},
	}

	for _, tt := range tests {
		err := adapter.translateError(errForMsg(tt.errMsg))
		if err == nil {
			t.Errorf("expected non-nil error for %q", tt.errMsg)
			continue
		}
		if !tt.check(err) {
			t.Errorf("for %q: unexpected error type %T", tt.errMsg, err)
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("for %q: expected retryable=%v", tt.errMsg, tt.retryable)
		}
	}
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
func errForMsg(msg string) error     { return &simpleError{msg: msg} }

func TestFlattenMessages(t *testing.T) {
	system, transcript := flattenMessages([]Message{
		SystemMessage("rules"),
		UserMessage("hi"),
		AssistantMessage(`{"command":{}}`),
		AssistantMessage(""),
		UserMessage("result"),
	})
	if system != "rules" {
		t.Errorf("expected system prompt %q, got %q", "rules", system)
	}
	want := "hi\n[Assistant]: {\"command\":{}}\nresult"
	if transcript != want {
		t.Errorf("expected transcript %q, got %q", want, transcript)
	}
}

func TestGollmBuildResponse(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "gpt-4o"}
	resp := adapter.buildResponse(Request{Messages: []Message{UserMessage("Hello world!")}}, "done")
	if resp.Model != "gpt-4o" {
		t.Errorf("expected adapter default model, got %q", resp.Model)
	}
	if resp.Text() != "done" {
		t.Errorf("expected text %q, got %q", "done", resp.Text())
	}
	if resp.Usage.TotalTokens != resp.Usage.InputTokens+resp.Usage.OutputTokens {
		t.Errorf("usage totals do not add up: %+v", resp.Usage)
	}
}

func TestEstimateRequestTokensEmpty(t *testing.T) {
	req := Request{Messages: []Message{}}
	tokens := estimateTokens(req)
	if tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}

func TestGollmAdapterComplete(t *testing.T) {
	fake := &fakeLLM{model: "claude-default", reply: `{"command":{"name":"finalAnswer","args":{"answer":"4"}}}`}
	adapter := NewGollmAdapterFromLLM("anthropic", fake)

	temperature := 0.2
	topP := 0.9
	maxTokens := 256
	resp, err := adapter.Complete(context.Background(), Request{
		Model: "claude-custom",
		Messages: []Message{
			SystemMessage("You are a planner."),
			UserMessage("2+2?"),
			AssistantMessage(`{"command":{"name":"calc"}}`),
			UserMessage("4"),
		},
		Temperature: &temperature,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.prompts) != 1 {
		t.Fatalf("expected one Generate call, got %d", len(fake.prompts))
	}
	prompt := fake.prompts[0]
	if prompt.SystemPrompt != "You are a planner." {
		t.Errorf("expected system prompt to be forwarded, got %q", prompt.SystemPrompt)
	}
	wantInput := "2+2?\n[Assistant]: {\"command\":{\"name\":\"calc\"}}\n4"
	if prompt.Input != wantInput {
		t.Errorf("expected flattened transcript %q, got %q", wantInput, prompt.Input)
	}
	if prompt.MaxLength != maxTokens {
		t.Errorf("expected max length %d, got %d", maxTokens, prompt.MaxLength)
	}

	wantOptions := map[string]any{
		"model":       "claude-custom",
		"temperature": temperature,
		"top_p":       topP,
		"max_tokens":  maxTokens,
	}
	for key, want := range wantOptions {
		if got := fake.options[key]; got != want {
			t.Errorf("option %s: expected %v, got %v", key, want, got)
		}
	}
	if _, ok := fake.options["presence_penalty"]; ok {
		t.Errorf("unset presence_penalty should not be applied")
	}

	if resp.Model != "claude-custom" || resp.Provider != "anthropic" {
		t.Errorf("unexpected response identity: model=%q provider=%q", resp.Model, resp.Provider)
	}
	if resp.Text() != fake.reply {
		t.Errorf("expected reply text, got %q", resp.Text())
	}
}

func TestGollmAdapterCompleteDefaults(t *testing.T) {
	fake := &fakeLLM{model: "claude-default", reply: "ok"}
	adapter := NewGollmAdapterFromLLM("anthropic", fake)

	resp, err := adapter.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.options) != 0 {
		t.Errorf("expected no options for an empty request, got %v", fake.options)
	}
	if got := fake.prompts[0].Input; got != "Hello" {
		t.Errorf("expected placeholder input for an empty transcript, got %q", got)
	}
	if resp.Model != "claude-default" {
		t.Errorf("expected model from the wrapped LLM, got %q", resp.Model)
	}
}

func TestGollmAdapterCompleteTranslatesErrors(t *testing.T) {
	fake := &fakeLLM{err: errors.New("429 rate limit exceeded")}
	adapter := NewGollmAdapterFromLLM("anthropic", fake)

	_, err := adapter.Complete(context.Background(), Request{Messages: []Message{UserMessage("hi")}})
	var rateLimit *RateLimitError
	if !errors.As(err, &rateLimit) {
		t.Fatalf("expected *RateLimitError, got %T: %v", err, err)
	}
	if !IsRetryable(err) {
		t.Errorf("rate limit errors should be retryable")
	}
}

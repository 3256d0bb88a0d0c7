package unifiedllm

import "testing"

func TestGetModelInfo(t *testing.T) {
	// By exact ID.
	info := GetModelInfo("gpt-3.5-turbo")
	if info == nil {
		t.Fatal("expected to find gpt-3.5-turbo")
	}
	if info.Provider != "openai" {
		t.Errorf("expected provider %q, got %q", "openai", info.Provider)
	}
	if info.ContextWindow != 4096 {
		t.Errorf("expected context window 4096, got %d", info.ContextWindow)
	}
	if info.Encoding != "cl100k_base" {
		t.Errorf("expected encoding cl100k_base, got %q", info.Encoding)
	}

	// By alias.
	info = GetModelInfo("opus")
	if info == nil {
		t.Fatal("expected to find model by alias 'opus'")
	}
	if info.ID != "claude-opus-4-6" {
		t.Errorf("expected id %q, got %q", "claude-opus-4-6", info.ID)
	}

	// Unknown model.
	info = GetModelInfo("nonexistent-model")
	if info != nil {
		t.Errorf("expected nil for unknown model, got %v", info)
	}
}

func TestListModels(t *testing.T) {
	all := ListModels("")
	if len(all) != len(Models) {
		t.Errorf("expected %d models, got %d", len(Models), len(all))
	}

	anthropic := ListModels("anthropic")
	if len(anthropic) != 2 {
		t.Errorf("expected 2 Anthropic models, got %d", len(anthropic))
	}
	for _, m := range anthropic {
		if m.Provider != "anthropic" {
			t.Errorf("expected provider anthropic, got %q", m.Provider)
		}
	}

	openai := ListModels("openai")
	if len(openai) != 3 {
		t.Errorf("expected 3 OpenAI models, got %d", len(openai))
	}

	if none := ListModels("nobody"); len(none) != 0 {
		t.Errorf("expected no models for unknown provider, got %d", len(none))
	}
}

func TestGetLatestModel(t *testing.T) {
	if m := GetLatestModel("openai"); m == nil || m.ID != "gpt-4o" {
		t.Errorf("expected gpt-4o as latest openai model, got %v", m)
	}
	if m := GetLatestModel("nobody"); m != nil {
		t.Errorf("expected nil, got %v", m)
	}
}

func TestContextWindow(t *testing.T) {
	if got := ContextWindow("turbo"); got != 4096 {
		t.Errorf("expected 4096, got %d", got)
	}
	if got := ContextWindow("unknown"); got != 0 {
		t.Errorf("expected 0 for unknown model, got %d", got)
	}
}

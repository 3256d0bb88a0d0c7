// Package unifiedllm provides a provider-agnostic model client used by the
// task loop.
//
// # Architecture
//
//   - ProviderAdapter: one implementation per backend. GollmAdapter wraps
//     github.com/teilomillet/gollm; OpenAIAdapter calls the OpenAI chat
//     completions API through github.com/openai/openai-go.
//   - Client: routes requests by provider name and applies middleware.
//   - Retry: bounded exponential backoff for transient errors, driven by
//     IsRetryable and the typed error hierarchy in errors.go.
//   - TokenCounter: tiktoken-backed counting with a length-based fallback.
//   - Models: a small catalog of context windows and encodings.
//
// # Quick Start
//
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("openai", unifiedllm.NewOpenAIAdapter(os.Getenv("OPENAI_API_KEY"))),
//	)
//
//	resp, err := unifiedllm.Retry(ctx, unifiedllm.DefaultRetryPolicy(), func(ctx context.Context) (*unifiedllm.Response, error) {
//	    return client.Complete(ctx, unifiedllm.Request{
//	        Model:    "gpt-4o-mini",
//	        Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	    })
//	})
package unifiedllm

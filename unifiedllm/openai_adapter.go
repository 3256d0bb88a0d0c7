package unifiedllm

import (
	"context"
	"errors"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIAdapter calls the OpenAI chat completions API directly.
type OpenAIAdapter struct {
	client openai.Client
	model  string
}

// NewOpenAIAdapter creates an adapter using apiKey. Extra request options
// (base URL, headers) are passed through to the OpenAI client.
func NewOpenAIAdapter(apiKey string, opts ...option.RequestOption) *OpenAIAdapter {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0), // Retries are handled by Retry.
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAIAdapter{
		client: openai.NewClient(reqOpts...),
		model:  "gpt-3.5-turbo",
	}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Complete sends a chat completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	completion, err := a.client.Chat.Completions.New(ctx, a.translateRequest(req))
	if err != nil {
		return nil, a.translateError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{
			SDKError:  SDKError{Message: "completion returned no choices"},
			Provider:  a.Name(),
			Retryable: true,
		}
	}

	choice := completion.Choices[0]
	return &Response{
		ID:       completion.ID,
		Model:    completion.Model,
		Provider: a.Name(),
		Message:  AssistantMessage(choice.Message.Content),
		FinishReason: FinishReason{
			Reason: normalizeFinishReason(choice.FinishReason),
			Raw:    choice.FinishReason,
		},
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}, nil
}

func (a *OpenAIAdapter) translateRequest(req Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = a.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		text := msg.TextContent()
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(text))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(text))
		default:
			messages = append(messages, openai.UserMessage(text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*req.FrequencyPenalty)
	}
	if len(req.LogitBias) > 0 {
		params.LogitBias = make(map[string]int64, len(req.LogitBias))
		for token, bias := range req.LogitBias {
			params.LogitBias[token] = int64(bias)
		}
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json" {
		if info := GetModelInfo(model); info != nil && info.JSONMode {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
	}
	return params
}

// translateError converts an openai-go error into the unified error hierarchy.
func (a *OpenAIAdapter) translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return &NetworkError{SDKError: SDKError{Message: "openai request failed", Cause: err}}
	}

	var after *float64
	if apiErr.Response != nil {
		if v, perr := strconv.ParseFloat(apiErr.Response.Header.Get("Retry-After"), 64); perr == nil {
			after = &v
		}
	}
	msg := apiErr.Message
	if msg == "" {
		msg = "openai request failed"
	}
	return ErrorFromStatusCode(apiErr.StatusCode, msg, a.Name(), apiErr.Code, err, after)
}

func normalizeFinishReason(raw string) string {
	switch raw {
	case "stop", "length", "content_filter":
		return raw
	case "":
		return "stop"
	default:
		return "other"
	}
}

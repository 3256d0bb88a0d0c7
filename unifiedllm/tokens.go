package unifiedllm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter returns the number of tokens text occupies for a model.
type TokenCounter func(text string) int

var (
	encodings   = map[string]*tiktoken.Tiktoken{}
	encodingsMu sync.Mutex
)

// NewTiktokenCounter returns a BPE token counter for the given model. Models
// missing from the catalog use cl100k_base. Loading an encoding may download
// its ranks on first use.
func NewTiktokenCounter(model string) (TokenCounter, error) {
	name := "cl100k_base"
	if info := GetModelInfo(model); info != nil && info.Encoding != "" {
		name = info.Encoding
	}

	encodingsMu.Lock()
	defer encodingsMu.Unlock()

	enc, ok := encodings[name]
	if !ok {
		var err error
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load tiktoken encoding %s: %w", name, err)
		}
		encodings[name] = enc
	}

	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// EstimateTokens is a rough counter used when no tokenizer is available:
// about four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// CountMessages sums the tokens of every text part in messages.
func CountMessages(count TokenCounter, messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += count(msg.TextContent())
	}
	return total
}

package llm

import (
	"sync"

	"github.com/weaviate/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens returns the cl100k_base token count of text, falling back to a
// four-bytes-per-token estimate if the encoding is unavailable.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// CountMessageTokens sums the tokens of a prompt.
func CountMessageTokens(system string, messages []ChatMessage) int {
	n := CountTokens(system)
	for _, m := range messages {
		n += CountTokens(m.Content)
	}
	return n
}

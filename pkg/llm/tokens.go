package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of s. Uses the cl100k_base
// encoding when available; falls back to the bytes/4 heuristic when the
// encoding cannot be loaded (offline environments).
func EstimateTokens(s string) int {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return len(s) / 4
	}
	return len(encoder.Encode(s, nil, nil))
}

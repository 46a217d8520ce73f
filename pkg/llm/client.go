// Package llm defines the chat client consumed by the explanation
// overlay, with an Azure OpenAI implementation.
package llm

import (
	"context"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single chat call.
type Options struct {
	MaxTokens   int
	Temperature float64
	ForceJSON   bool
}

// Client produces a completion for a conversation. Implementations must
// honor context cancellation.
type Client interface {
	Chat(ctx context.Context, messages []Message, options *Options) (string, error)
}

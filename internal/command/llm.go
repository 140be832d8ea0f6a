package command

import "context"

// ChatOptions configures one LLMProvider.Chat call.
type ChatOptions struct {
	Model string
}

// ChatOption mutates ChatOptions.
type ChatOption func(*ChatOptions)

// WithModel selects the model to use for this call.
func WithModel(name string) ChatOption {
	return func(o *ChatOptions) { o.Model = name }
}

// LLMProvider is the AI capability commands may call, kept independent of
// any concrete runtime so the command layer never imports internal/ai
// directly.
type LLMProvider interface {
	Chat(ctx context.Context, sessionID, prompt string, opts ...ChatOption) (<-chan string, error)
}

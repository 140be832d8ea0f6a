package ai

import (
	"context"

	"github.com/xl370869-art/wecom/internal/command"
)

// CommandLLM adapts Service to the command package's LLMProvider interface,
// whose ChatOption type is distinct from ai.ChatOption so the command layer
// never needs to import internal/ai directly.
type CommandLLM struct {
	Service *Service
}

// NewCommandLLM wraps service for use as a command.Manager's LLMProvider.
func NewCommandLLM(service *Service) *CommandLLM {
	return &CommandLLM{Service: service}
}

// Chat implements command.LLMProvider.
func (c *CommandLLM) Chat(ctx context.Context, sessionID, prompt string, opts ...command.ChatOption) (<-chan string, error) {
	var resolved command.ChatOptions
	for _, o := range opts {
		o(&resolved)
	}
	var chatOpts []ChatOption
	if resolved.Model != "" {
		chatOpts = append(chatOpts, WithModel(resolved.Model))
	}
	return c.Service.Chat(ctx, sessionID, prompt, chatOpts...)
}

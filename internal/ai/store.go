package ai

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// SessionStore persists chat history per session id.
type SessionStore interface {
	GetHistory(ctx context.Context, sessionID string) ([]llms.ChatMessage, error)
	AddUserMessage(ctx context.Context, sessionID, text string) error
	AddAIMessage(ctx context.Context, sessionID, text string) error
	ClearHistory(ctx context.Context, sessionID string) error
}

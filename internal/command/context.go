package command

import (
	"context"
	"fmt"

	"github.com/xl370869-art/wecom/internal/botcore"
)

type keyExecutionContext struct{}

// Values holds free-form per-conversation context key/values.
type Values map[string]string

// ConversationStore persists command-layer Values across requests.
type ConversationStore interface {
	Load(key string) (Values, error)
	Save(key string, values Values) error
}

// ExecutionContext is the environment handed to every Cobra command.
type ExecutionContext struct {
	Update    botcore.Update
	StreamID  string
	Values    Values
	Store     ConversationStore
	llm       LLMProvider
	responder botcore.ActiveResponder

	sendSignal func(chunk botcore.StreamChunk)
}

// SetResponsePayload immediately sends a non-streaming reply payload and
// marks the pipeline's output as final.
func (ctx *ExecutionContext) SetResponsePayload(payload interface{}) {
	if ctx.sendSignal != nil {
		ctx.sendSignal(botcore.StreamChunk{Payload: payload, IsFinal: true})
	}
}

// SetNoResponse immediately signals the silent-ack sentinel.
func (ctx *ExecutionContext) SetNoResponse() {
	if ctx.sendSignal != nil {
		ctx.sendSignal(botcore.StreamChunk{Payload: botcore.NoResponse, IsFinal: true})
	}
}

// LLM returns the AI backend available to this command, if any.
func (ctx *ExecutionContext) LLM() LLMProvider {
	return ctx.llm
}

// Responder returns the active (outbound) message sender.
func (ctx *ExecutionContext) Responder() botcore.ActiveResponder {
	return ctx.responder
}

// ConversationKey is the ConversationStore key for this context's chat/sender pair.
func (ctx *ExecutionContext) ConversationKey() string {
	if ctx == nil {
		return ""
	}
	return fmt.Sprintf("%s:%s", ctx.Update.ChatID, ctx.Update.SenderID)
}

// WithExecutionContext injects execCtx into ctx.
func WithExecutionContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	return context.WithValue(ctx, keyExecutionContext{}, execCtx)
}

// FromContext extracts the ExecutionContext injected by WithExecutionContext.
func FromContext(ctx context.Context) *ExecutionContext {
	val := ctx.Value(keyExecutionContext{})
	if val == nil {
		return nil
	}
	return val.(*ExecutionContext)
}

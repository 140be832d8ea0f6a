package ai

import (
	"context"

	"github.com/xl370869-art/wecom/internal/ep/agent"
)

// Runtime adapts Service to the agent.AgentRuntime interface the EP driver
// dispatches against. It is the reference AgentRuntime implementation;
// the composition root wires it in unless an operator configures a
// different external runtime.
type Runtime struct {
	Service *Service
	Model   string // optional override; empty uses the service's default model
}

// NewRuntime builds a Runtime over an *ai.Service.
func NewRuntime(service *Service, model string) *Runtime {
	return &Runtime{Service: service, Model: model}
}

// Dispatch implements agent.AgentRuntime by routing the inbound context's
// SessionKey and Body through Service.Chat, translating the raw string
// stream into the agent package's Block shape.
func (r *Runtime) Dispatch(ctx context.Context, in agent.InboundContext) (<-chan agent.Block, error) {
	var opts []ChatOption
	if r.Model != "" {
		opts = append(opts, WithModel(r.Model))
	}

	tokens, err := r.Service.Chat(ctx, in.SessionKey, in.Body, opts...)
	if err != nil {
		return nil, err
	}

	out := make(chan agent.Block)
	go func() {
		defer close(out)
		for token := range tokens {
			select {
			case out <- agent.Block{Text: token}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

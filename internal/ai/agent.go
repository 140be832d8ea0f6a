package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// ToolDefinition is one callable tool exposed to the agent loop.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Function    func(ctx context.Context, args string) (string, error)
}

// AgentOptions configures RunAgent.
type AgentOptions struct {
	Model      string
	Tools      []ToolDefinition
	MaxTurns   int
	StreamFunc func(string) // progress markers: thoughts, tool calls, results
}

// RunAgent drives a tool-calling loop against the configured model,
// executing each requested tool synchronously and feeding the result back
// until the model returns a final answer or MaxTurns is exhausted.
func (s *Service) RunAgent(ctx context.Context, sessionID, prompt string, opts AgentOptions) (string, error) {
	if opts.MaxTurns == 0 {
		opts.MaxTurns = 10
	}

	modelName := opts.Model
	if modelName == "" {
		modelName = s.config.DefaultModel
	}

	llm, err := s.getModel(ctx, modelName)
	if err != nil {
		return "", err
	}

	history, err := s.store.GetHistory(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("ai: get history: %w", err)
	}

	var messages []llms.MessageContent
	for _, msg := range history {
		messages = append(messages, llms.TextParts(msg.GetType(), msg.GetContent()))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	var llmTools []llms.Tool
	toolMap := make(map[string]ToolDefinition)
	for _, t := range opts.Tools {
		toolMap[t.Name] = t
		llmTools = append(llmTools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	for i := 0; i < opts.MaxTurns; i++ {
		resp, err := llm.GenerateContent(ctx, messages, llms.WithTools(llmTools))
		if err != nil {
			return "", fmt.Errorf("ai: generate content: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("ai: empty response from model")
		}

		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			if opts.StreamFunc != nil {
				opts.StreamFunc(choice.Content)
			}
			return choice.Content, nil
		}

		if choice.Content != "" && opts.StreamFunc != nil {
			opts.StreamFunc(choice.Content + "\n")
		}

		assistantMsg := llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: []llms.ContentPart{llms.TextPart(choice.Content)},
		}
		for _, tc := range choice.ToolCalls {
			assistantMsg.Parts = append(assistantMsg.Parts, llms.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				FunctionCall: &llms.FunctionCall{
					Name:      tc.FunctionCall.Name,
					Arguments: tc.FunctionCall.Arguments,
				},
			})
		}
		messages = append(messages, assistantMsg)

		for _, tc := range choice.ToolCalls {
			toolName := tc.FunctionCall.Name
			args := tc.FunctionCall.Arguments

			if opts.StreamFunc != nil {
				opts.StreamFunc(fmt.Sprintf("running tool %s %s\n", toolName, args))
			}

			tool, exists := toolMap[toolName]
			var result string
			if !exists {
				result = fmt.Sprintf("error: tool %s not found", toolName)
			} else {
				result, err = tool.Function(ctx, args)
				if err != nil {
					result = fmt.Sprintf("error: %v", err)
				}
			}
			if opts.StreamFunc != nil {
				opts.StreamFunc(fmt.Sprintf("tool result: %s\n", result))
			}

			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{ToolCallID: tc.ID, Name: toolName, Content: result},
				},
			})
		}
	}

	return "", fmt.Errorf("ai: max turns reached")
}

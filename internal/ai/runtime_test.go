package ai

import (
	"context"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/xl370869-art/wecom/internal/ep/agent"
)

type memoryStore struct {
	history map[string][]llms.ChatMessage
}

func newMemoryStore() *memoryStore {
	return &memoryStore{history: make(map[string][]llms.ChatMessage)}
}

func (m *memoryStore) GetHistory(ctx context.Context, sessionID string) ([]llms.ChatMessage, error) {
	return m.history[sessionID], nil
}

func (m *memoryStore) AddUserMessage(ctx context.Context, sessionID, text string) error {
	m.history[sessionID] = append(m.history[sessionID], llms.HumanChatMessage{Content: text})
	return nil
}

func (m *memoryStore) AddAIMessage(ctx context.Context, sessionID, text string) error {
	m.history[sessionID] = append(m.history[sessionID], llms.AIChatMessage{Content: text})
	return nil
}

func (m *memoryStore) ClearHistory(ctx context.Context, sessionID string) error {
	delete(m.history, sessionID)
	return nil
}

func TestRuntimeDispatchUnknownModel(t *testing.T) {
	service := NewService(&Config{DefaultModel: "missing"}, newMemoryStore(), nil)
	runtime := NewRuntime(service, "")

	_, err := runtime.Dispatch(context.Background(), agent.InboundContext{SessionKey: "s1", Body: "hi"})
	if err == nil {
		t.Fatal("expected an error for an unconfigured model")
	}
}

func TestRuntimeDispatchUsesOverrideModel(t *testing.T) {
	service := NewService(&Config{DefaultModel: "default"}, newMemoryStore(), nil)
	runtime := NewRuntime(service, "still-missing")

	_, err := runtime.Dispatch(context.Background(), agent.InboundContext{SessionKey: "s1", Body: "hi"})
	if err == nil {
		t.Fatal("expected an error since neither the override nor default model is configured")
	}
}

package ai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Service is the main entry point for model access, session history, and
// streaming chat.
type Service struct {
	config     *Config
	store      SessionStore
	modelCache map[string]llms.Model
	logger     *logrus.Logger
}

// NewService builds a Service over config and store.
func NewService(config *Config, store SessionStore, logger *logrus.Logger) *Service {
	return &Service{
		config:     config,
		store:      store,
		modelCache: make(map[string]llms.Model),
		logger:     logger,
	}
}

// resolveAPIKey resolves an "env:VARNAME" indirection, or returns key as-is.
func resolveAPIKey(key string) string {
	if strings.HasPrefix(key, "env:") {
		return os.Getenv(strings.TrimPrefix(key, "env:"))
	}
	return key
}

func (s *Service) getModel(ctx context.Context, modelName string) (llms.Model, error) {
	if model, ok := s.modelCache[modelName]; ok {
		return model, nil
	}

	var cfg *ModelConfig
	for i := range s.config.Models {
		if s.config.Models[i].Name == modelName {
			cfg = &s.config.Models[i]
			break
		}
	}
	if cfg == nil {
		return nil, fmt.Errorf("ai: model %q not found in configuration", modelName)
	}

	apiKey := resolveAPIKey(cfg.APIKey)

	var llm llms.Model
	var err error
	switch cfg.Provider {
	case "openai":
		llm, err = openai.New(
			openai.WithToken(apiKey),
			openai.WithModel(cfg.ModelName),
			openai.WithBaseURL(cfg.BaseURL),
		)
	case "google":
		llm, err = googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(cfg.ModelName),
		)
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(apiKey),
			anthropic.WithModel(cfg.ModelName),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		llm, err = anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("ai: unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("ai: create model provider: %w", err)
	}

	s.modelCache[modelName] = llm
	return llm, nil
}

// ChatOptions configures one Chat call.
type ChatOptions struct {
	Model string
}

// ChatOption mutates ChatOptions.
type ChatOption func(*ChatOptions)

// WithModel selects a non-default model for this call.
func WithModel(model string) ChatOption {
	return func(o *ChatOptions) { o.Model = model }
}

// Chat saves prompt to history, loads the full session history, streams the
// model's reply token-by-token on the returned channel, and persists the
// assistant's full reply once streaming completes.
func (s *Service) Chat(ctx context.Context, sessionID, prompt string, opts ...ChatOption) (<-chan string, error) {
	options := &ChatOptions{Model: s.config.DefaultModel}
	for _, o := range opts {
		o(options)
	}
	modelName := options.Model
	if modelName == "" {
		modelName = s.config.DefaultModel
	}

	llm, err := s.getModel(ctx, modelName)
	if err != nil {
		return nil, err
	}

	if err := s.store.AddUserMessage(ctx, sessionID, prompt); err != nil {
		return nil, fmt.Errorf("ai: add user message: %w", err)
	}

	history, err := s.store.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ai: get history: %w", err)
	}

	var contentMessages []llms.MessageContent
	for _, msg := range history {
		contentMessages = append(contentMessages, llms.TextParts(msg.GetType(), msg.GetContent()))
	}

	stream := make(chan string)

	go func() {
		defer close(stream)

		var fullResponse strings.Builder
		_, err := llm.GenerateContent(
			ctx,
			contentMessages,
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				content := string(chunk)
				stream <- content
				fullResponse.Write(chunk)
				return nil
			}),
		)
		if err != nil {
			if s.logger != nil {
				s.logger.WithError(err).Warn("ai: streaming generation failed")
			}
			stream <- fmt.Sprintf("\n[AI_ERROR]: %v", err)
			return
		}

		if fullResponse.Len() > 0 {
			if err := s.store.AddAIMessage(context.Background(), sessionID, fullResponse.String()); err != nil && s.logger != nil {
				s.logger.WithError(err).Warn("ai: failed to persist assistant reply")
			}
		}
	}()

	return stream, nil
}

// ClearHistory resets a session's stored history. No gateway command path
// calls it; a "/new" message reaches the runtime as ordinary chat input.
func (s *Service) ClearHistory(ctx context.Context, sessionID string) error {
	return s.store.ClearHistory(ctx, sessionID)
}

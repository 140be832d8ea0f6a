package command

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/xl370869-art/wecom/internal/botcore"
)

// Manager implements botcore.PipelineInvoker by building a fresh Cobra
// command tree per request and redirecting its stdout/stderr into the
// output channel.
type Manager struct {
	factory   Factory
	parser    Parser
	store     ConversationStore
	logger    *logrus.Logger
	responder botcore.ActiveResponder
	llm       LLMProvider
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger injects a structured logger.
func WithLogger(l *logrus.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithResponder injects the active (outbound) message sender.
func WithResponder(r botcore.ActiveResponder) Option {
	return func(m *Manager) { m.responder = r }
}

// WithLLM injects the AI backend commands may call.
func WithLLM(llm LLMProvider) Option {
	return func(m *Manager) { m.llm = llm }
}

// NewManager binds a command factory and conversation store.
func NewManager(factory Factory, store ConversationStore, opts ...Option) *Manager {
	mgr := &Manager{factory: factory, parser: NewParser(), store: store}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Trigger implements botcore.PipelineInvoker.
func (m *Manager) Trigger(update botcore.Update, streamID string) <-chan botcore.StreamChunk {
	out := make(chan botcore.StreamChunk, 1)
	go func() {
		defer close(out)

		if m == nil || m.factory == nil {
			out <- botcore.StreamChunk{Content: "command manager not initialized", IsFinal: true}
			return
		}

		parsed := m.parser.Parse(update.Text)
		if !parsed.IsCommand {
			if strings.TrimSpace(update.Text) == "" {
				out <- botcore.StreamChunk{Content: "enter a command, e.g. /help", IsFinal: true}
			} else {
				out <- botcore.StreamChunk{Content: fmt.Sprintf("unrecognized command: %s\ntry /help", parsed.Raw), IsFinal: true}
			}
			return
		}

		rootCmd := m.factory()
		writer := NewStreamWriter(out)
		rootCmd.SetOut(writer)
		rootCmd.SetErr(writer)
		rootCmd.CompletionOptions.DisableDefaultCmd = true

		var signalOnce sync.Once
		sendSignal := func(chunk botcore.StreamChunk) {
			signalOnce.Do(func() { out <- chunk })
		}

		execCtx := &ExecutionContext{
			Update:     update,
			StreamID:   streamID,
			Store:      m.store,
			responder:  m.responder,
			llm:        m.llm,
			sendSignal: sendSignal,
		}

		convKey := execCtx.ConversationKey()
		if m.store != nil {
			if values, err := m.store.Load(convKey); err != nil {
				m.logf("load conversation context failed: %v", err)
			} else {
				execCtx.Values = values
			}
		}

		ctx := WithExecutionContext(context.Background(), execCtx)

		args := parsed.Tokens
		if len(args) > 0 && strings.EqualFold(args[0], rootCmd.Name()) {
			args = args[1:]
		}
		rootCmd.SetArgs(args)
		m.logf("executing command %v for user %s", args, update.SenderID)

		if err := rootCmd.ExecuteContext(ctx); err != nil {
			m.logf("command execution error: %v", err)
			out <- botcore.StreamChunk{Content: fmt.Sprintf("error: %v\n", err)}
		}

		signalOnce.Do(func() {
			out <- botcore.StreamChunk{Content: "", IsFinal: true}
		})
	}()
	return out
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m == nil || m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}

// Package agent implements the agent driver (C8): the component that
// turns an admitted conversation batch into calls against an external
// agent runtime and folds the runtime's streamed blocks back into the Bot
// channel's passive-stream contract (or the Application channel's
// send API). The concrete agent runtime is an external collaborator
// (AgentRuntime) per the core's explicit non-goal of owning LLM
// orchestration; internal/ai.Service is the reference implementation
// wired in by the composition root, adapted from the teacher's
// ai.Service/command.LLMProvider split.
package agent

import (
	"context"
	"time"
)

// Block is one unit of streamed output from an AgentRuntime dispatch.
type Block struct {
	Text      string
	MediaURL  string
	MediaURLs []string
}

// Attachment describes one piece of inbound media already resolved to
// local bytes or a fetchable URL.
type Attachment struct {
	Path     string
	URL      string
	MIMEType string
}

// Route is the {agentId, sessionKey, accountId} triple the agent runtime
// uses to place a dispatch into the right session and billing scope.
type Route struct {
	AgentID   string
	SessionKey string
	AccountID string
}

// InboundContext is the normalized envelope handed to AgentRuntime.Dispatch.
type InboundContext struct {
	Body              string // human-readable header + raw content
	RawBody           string
	CommandBody       string
	Attachments       []Attachment
	SourceAddress     string
	TargetAddress     string
	SessionKey        string
	ChatType          string
	Provider          string
	Surface           string
	CommandAuthorized bool
	MediaPath         string
	MediaType         string
	MediaURL          string
}

// AgentRuntime is the pluggable external agent. internal/ai.Service is one
// concrete implementation, adapted and wired by the composition root.
type AgentRuntime interface {
	Dispatch(ctx context.Context, in InboundContext) (<-chan Block, error)
}

// CommandPolicy decides whether a parsed command is authorized to run for
// a given route, e.g. based on a DM/allowlist configuration.
type CommandPolicy interface {
	Authorize(route Route, command string) bool
}

// CommandPolicyFunc adapts a plain function to CommandPolicy.
type CommandPolicyFunc func(route Route, command string) bool

// Authorize implements CommandPolicy.
func (f CommandPolicyFunc) Authorize(route Route, command string) bool {
	if f == nil {
		return true
	}
	return f(route, command)
}

// AllowAllCommands is the default, permissive CommandPolicy.
var AllowAllCommands = CommandPolicyFunc(func(Route, string) bool { return true })

const (
	// streamMaxBytes is the Bot channel's visible stream content cap
	// (spec §4.8.1): the answer grows monotonically up to this size.
	streamMaxBytes = 20 * 1024
	// dmMaxBytes caps the accumulated DM-fallback buffer (spec §4.8.1).
	dmMaxBytes = 200 * 1024
	// botWindow is the Bot passive-stream channel's total lifetime.
	botWindow = 6 * time.Minute
	// timeoutMargin is how long before botWindow expires the driver
	// switches into timeout fallback, to leave room to flush a prompt.
	timeoutMargin = 30 * time.Second
)

// TableMode selects how markdown tables are rendered into the Bot
// channel's plain-text stream (internal/ep/agent/tables.go).
type TableMode string

const (
	// TableModeMarkdown leaves markdown table syntax untouched.
	TableModeMarkdown TableMode = "markdown"
	// TableModeFlatten rewrites tables into readable "key: value" lines,
	// since most EP clients render the Bot stream as plain text.
	TableModeFlatten TableMode = "flatten"
)

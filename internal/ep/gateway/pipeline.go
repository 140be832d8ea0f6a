// Package gateway composes the command layer (C0, the teacher's own
// cobra-driven command.Manager) and the agent driver (C8) into the single
// botcore.PipelineInvoker the channel handlers (C6/C7) call into, the way
// the teacher's examples/wecom-openai-example/main.go wires Bot straight
// at a single business-logic entry point.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xl370869-art/wecom/internal/botcore"
	"github.com/xl370869-art/wecom/internal/command"
	"github.com/xl370869-art/wecom/internal/ep/agent"
	"github.com/xl370869-art/wecom/internal/ep/failover"
	"github.com/xl370869-art/wecom/internal/ep/target"
	"github.com/xl370869-art/wecom/internal/metrics"
)

// structuralCommands are the tokens routed to the cobra command tree
// (only "help"; the tree's other subcommands are not routed there);
// anything else that merely looks command-shaped (starts with "/") but
// isn't one of these falls through to the agent driver, since "/reset"-style resets are
// the driver's own concern (spec §4.8.4), not the command layer's.
var structuralCommands = map[string]bool{
	"help": true,
}

// Pipeline implements botcore.PipelineInvoker by routing each inbound
// update to either the structural command manager or the agent driver.
type Pipeline struct {
	Commands              *command.Manager
	Driver                *agent.Driver
	Sender                agent.MediaSender
	AccountID             string
	AgentID               string
	ApplicationConfigured bool
	Channel               failover.Channel
	Timeout               time.Duration
	Logger                *logrus.Logger
}

// New builds a Pipeline. commands may be nil if no structural commands are
// configured for the account.
func New(commands *command.Manager, driver *agent.Driver, sender agent.MediaSender, accountID, agentID string, applicationConfigured bool, channel failover.Channel) *Pipeline {
	return &Pipeline{
		Commands:              commands,
		Driver:                driver,
		Sender:                sender,
		AccountID:             accountID,
		AgentID:               agentID,
		ApplicationConfigured: applicationConfigured,
		Channel:               channel,
		Timeout:               6 * time.Minute,
	}
}

// Trigger implements botcore.PipelineInvoker.
func (p *Pipeline) Trigger(update botcore.Update, streamID string) <-chan botcore.StreamChunk {
	if p.Commands != nil && isStructuralCommand(update.Text) {
		return p.Commands.Trigger(update, streamID)
	}
	return p.triggerAgent(update, streamID)
}

func isStructuralCommand(text string) bool {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return false
	}
	token := strings.TrimPrefix(strings.Fields(trimmed)[0], "/")
	return structuralCommands[strings.ToLower(token)]
}

func (p *Pipeline) triggerAgent(update botcore.Update, streamID string) <-chan botcore.StreamChunk {
	out := make(chan botcore.StreamChunk, 1)
	go func() {
		defer close(out)

		resolved := target.Resolve(update.ChatID)
		route := agent.Route{
			AgentID:    p.AgentID,
			SessionKey: p.AccountID + ":" + string(resolved.Kind) + ":" + resolved.ID,
			AccountID:  p.AccountID,
		}

		isGroup := update.ChatType == "group" || update.ChatType == "chatroom"
		responseURL := update.Metadata["response_url"]

		in := agent.InboundContext{
			Body:          update.Text,
			RawBody:       update.Text,
			SourceAddress: update.SenderID,
			TargetAddress: update.ChatID,
			SessionKey:    route.SessionKey,
			ChatType:      update.ChatType,
			Provider:      update.Metadata["platform"],
		}

		state := agent.NewBatchState(streamID, update.ChatID, update.SenderID, isGroup, responseURL, update.Text, timeNow())

		ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
		defer cancel()
		defer metrics.ObserveDispatch(string(p.Channel), time.Now())

		observer := func(content string, isFinal bool, payload interface{}) {
			out <- botcore.StreamChunk{Content: content, IsFinal: isFinal, Payload: payload}
		}

		result, payload, err := p.Driver.Run(ctx, in, route, state, p.Sender, p.ApplicationConfigured, nil, observer)
		if err != nil {
			if p.Logger != nil {
				p.Logger.WithError(err).WithField("channel", p.Channel).Warn("gateway: agent dispatch failed")
			}
			out <- botcore.StreamChunk{Content: "抱歉，处理消息时出现了问题。", IsFinal: true}
			return
		}
		if payload != nil {
			return // already delivered via the observer's final payload chunk
		}
		_ = result
	}()
	return out
}

func timeNow() time.Time { return time.Now() }

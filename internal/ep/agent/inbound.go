package agent

import (
	"fmt"
	"strings"

	"github.com/xl370869-art/wecom/internal/command"
	"github.com/xl370869-art/wecom/internal/epmsg"
	"github.com/xl370869-art/wecom/internal/ep/target"
)

// BuildInboundBody turns a decrypted Bot-channel message into the raw text
// handed to the agent runtime (spec §4.8 step 1). Exported so the Bot
// webhook handler (internal/ep/bothandler) can normalize a raw *epmsg.Message
// the same way before it ever reaches the driver.
func BuildInboundBody(msg *epmsg.Message) string {
	var body string
	switch {
	case msg.Text != nil:
		body = msg.Text.Content
	case msg.Voice != nil:
		if msg.Voice.Content != "" {
			body = msg.Voice.Content
		} else {
			body = "[voice]"
		}
	case msg.Mixed != nil:
		var lines []string
		for _, item := range msg.Mixed.Items {
			switch {
			case item.Text != nil:
				lines = append(lines, item.Text.Content)
			case item.Image != nil:
				lines = append(lines, "[image]")
			default:
				lines = append(lines, "[file]")
			}
		}
		body = strings.Join(lines, "\n")
	case msg.Image != nil:
		body = fmt.Sprintf("[image] %s", msg.Image.URL)
	case msg.File != nil:
		body = fmt.Sprintf("[file] %s", msg.File.URL)
	case msg.Event != nil:
		body = fmt.Sprintf("[event] %s", msg.Event.EventType)
	case msg.Stream != nil:
		body = fmt.Sprintf("[stream_refresh] %s", msg.Stream.ID)
	}

	if msg.Quote != nil {
		body += "\n\n> " + formatQuote(msg.Quote)
	}
	return body
}

func formatQuote(q *epmsg.QuotePayload) string {
	switch {
	case q.Text != nil:
		return q.Text.Content
	case q.Image != nil:
		return "[image]"
	case q.Voice != nil:
		return "[voice]"
	case q.File != nil:
		return "[file]"
	case q.Mixed != nil:
		return "[mixed]"
	default:
		return ""
	}
}

// resolveRoute maps a chat/user pair onto the agent runtime's routing
// triple via the target resolver (C4), scoping the session key to the
// conversation so repeated turns land in the same agent session.
func resolveRoute(accountID, agentID, chatID, userID string) Route {
	resolved := target.Resolve(chatID)
	sessionKey := fmt.Sprintf("%s:%s:%s", accountID, resolved.Kind, resolved.ID)
	return Route{AgentID: agentID, SessionKey: sessionKey, AccountID: accountID}
}

// authorizeCommand checks whether rawBody parses as a command and, if so,
// whether policy allows it for route. ok is false only when the body *is*
// a command and policy refuses it.
func authorizeCommand(parser command.Parser, policy CommandPolicy, route Route, rawBody string) (isCommand bool, ok bool) {
	result := parser.Parse(rawBody)
	if !result.IsCommand {
		return false, true
	}
	if policy == nil {
		policy = AllowAllCommands
	}
	return true, policy.Authorize(route, result.Tokens[0])
}

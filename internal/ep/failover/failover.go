// Package failover implements the failover & DM-fallback policy table
// (C9): a small set of decisions consumed by the agent driver's
// block-delivery callback and finalization step when the Bot channel's
// passive-stream constraints (6-minute window, image-only inline media)
// are exceeded. It has no teacher analogue —
// WeCom's own smart-bot reference code never needed an Application-channel
// fallback path — so it is built fresh, modelled as a lookup table the
// way the teacher structures its smaller policy maps (e.g.
// extensionContentTypes in internal/ep/client).
package failover

import "unicode/utf8"

// Trigger identifies which boundary condition fired.
type Trigger string

const (
	// TriggerNonImageAttachment fires when the agent wants to deliver a
	// file/voice/video attachment that the Bot channel's inline msg_item
	// list cannot carry (it only supports images).
	TriggerNonImageAttachment Trigger = "non_image_attachment"
	// TriggerWindowTimeout fires when a Bot-channel stream nears its
	// 6-minute lifetime without finishing.
	TriggerWindowTimeout Trigger = "window_timeout"
	// TriggerUnconfiguredApplication fires when a fallback would require
	// DM delivery but the account has no Application credentials.
	TriggerUnconfiguredApplication Trigger = "unconfigured_application"
	// TriggerGroupChatTarget fires when an outbound send targets a chat id
	// (group) rather than a user id.
	TriggerGroupChatTarget Trigger = "group_chat_target"
)

// Channel identifies which webhook channel is asking for a decision.
type Channel string

const (
	ChannelBot Channel = "bot"
	ChannelApp Channel = "application"
)

// Decision is the policy's verdict: what prompt (if any) to show inline,
// whether the conversation's stream should be marked finished, and whether
// a DM delivery attempt should follow.
type Decision struct {
	Prompt          string // Chinese user-visible text, empty if none
	FallbackReason  string // e.g. "media", "timeout" — mirrors stream finish reason
	MarkFinished    bool
	AttemptDM       bool
	Refuse          bool // the outbound action itself should not be attempted
	RefuseReason    string
}

// Decide applies the policy table for trigger on channel.
func Decide(trigger Trigger, channel Channel) Decision {
	switch trigger {
	case TriggerNonImageAttachment:
		if channel == ChannelBot {
			return Decision{
				Prompt:         "文件将通过应用私信发送",
				FallbackReason: "media",
				MarkFinished:   true,
				AttemptDM:      true,
			}
		}
		return Decision{AttemptDM: true}

	case TriggerWindowTimeout:
		if channel == ChannelBot {
			return Decision{
				Prompt:         "剩余内容将通过私信发送",
				FallbackReason: "timeout",
				MarkFinished:   true,
				AttemptDM:      true,
			}
		}
		return Decision{AttemptDM: true}

	case TriggerUnconfiguredApplication:
		if channel == ChannelBot {
			return Decision{
				Prompt:         "该内容需要私信发送，请联系管理员配置应用消息模式",
				FallbackReason: "media",
				MarkFinished:   true,
			}
		}
		return Decision{}

	case TriggerGroupChatTarget:
		if channel == ChannelBot {
			return Decision{Refuse: true, RefuseReason: "outbound API to a group chat id is unreliable"}
		}
		return Decision{
			Prompt:       "群聊暂不支持该方式发送，请在群内通过机器人直接回复",
			Refuse:       true,
			RefuseReason: "application channel cannot target a chat id; redirect via bot in-group or refuse",
		}
	}
	return Decision{}
}

// DMChunkSize is the maximum size (bytes) of one DM-fallback chunk pushed
// through the Application channel's message/send API.
const DMChunkSize = 20 * 1024

// ChunkDM splits content into DMChunkSize-bounded chunks for the
// Application channel's chunked DM delivery of an over-long reply.
func ChunkDM(content string) []string {
	if content == "" {
		return nil
	}
	var chunks []string
	for len(content) > DMChunkSize {
		n := DMChunkSize
		for n > 0 && !utf8.RuneStart(content[n]) {
			n--
		}
		if n == 0 {
			n = DMChunkSize
		}
		chunks = append(chunks, content[:n])
		content = content[n:]
	}
	return append(chunks, content)
}

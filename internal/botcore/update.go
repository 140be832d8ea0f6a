// Package botcore defines the platform-agnostic event and streaming
// contracts shared by every EP channel (Bot and Application) and by the
// command/agent layers that consume them.
package botcore

// Update describes a standardized inbound event from any chat platform.
type Update struct {
	ID       string            // platform-unique message/event id
	SenderID string            // triggering user id
	ChatID   string            // chat/conversation id (group or single)
	ChatType string            // e.g. single/chatroom
	Text     string            // primary text content, if any
	Raw      interface{}       // reference to the platform's raw struct
	Metadata map[string]string // extra keyed values (platform, locale, ...)
}

// CloneMetadata returns a copy of Metadata so handlers cannot mutate the
// Update's backing map.
func (u Update) CloneMetadata() map[string]string {
	if len(u.Metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(u.Metadata))
	for k, v := range u.Metadata {
		out[k] = v
	}
	return out
}

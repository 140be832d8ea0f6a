// Package epmsg models the wire payloads of both EP channels: the Bot
// channel's JSON stream protocol and the Application channel's XML
// callback protocol.
package epmsg

// Message is the Bot channel's decrypted JSON callback body.
type Message struct {
	MsgID       string             `json:"msgid"`
	CreateTime  int64              `json:"create_time,omitempty"`
	AIBotID     string             `json:"aibotid"`
	ChatID      string             `json:"chatid"`
	ChatType    string             `json:"chattype"`
	From        MessageSender      `json:"from"`
	ResponseURL string             `json:"response_url"`
	MsgType     string             `json:"msgtype"`
	Text        *TextPayload       `json:"text,omitempty"`
	Image       *ImagePayload      `json:"image,omitempty"`
	Voice       *VoicePayload      `json:"voice,omitempty"`
	File        *FilePayload       `json:"file,omitempty"`
	Mixed       *MixedPayload      `json:"mixed,omitempty"`
	Stream      *StreamPayload     `json:"stream,omitempty"`
	Quote       *QuotePayload      `json:"quote,omitempty"`
	Event       *EventPayload      `json:"event,omitempty"`
	Attachment  *AttachmentPayload `json:"attachment,omitempty"`
}

// MessageSender identifies the user who triggered the callback.
type MessageSender struct {
	UserID string `json:"userid"`
	CorpID string `json:"corpid,omitempty"`
}

// TextPayload carries plain text content.
type TextPayload struct {
	Content string `json:"content"`
}

// ImagePayload carries an image reference, either by URL (inbound) or by
// base64/md5 (stream reply).
type ImagePayload struct {
	URL    string `json:"url,omitempty"`
	Base64 string `json:"base64,omitempty"`
	MD5    string `json:"md5,omitempty"`
}

// VoicePayload carries an ASR transcript for a voice message.
type VoicePayload struct {
	Content string `json:"content"`
}

// FilePayload carries a file download reference.
type FilePayload struct {
	URL string `json:"url"`
}

// MixedPayload is a mixed text/image message.
type MixedPayload struct {
	Items []MixedItem `json:"msg_item"`
}

// MixedItem is one element of a MixedPayload or a stream's final msg_item list.
type MixedItem struct {
	MsgType string        `json:"msgtype"`
	Text    *TextPayload  `json:"text,omitempty"`
	Image   *ImagePayload `json:"image,omitempty"`
}

// StreamPayload carries the client's stream-refresh request.
type StreamPayload struct {
	ID      string      `json:"id"`
	Finish  bool        `json:"finish,omitempty"`
	Content string      `json:"content,omitempty"`
	MsgItem []MixedItem `json:"msg_item,omitempty"`
}

// QuotePayload carries a quoted/replied-to message.
type QuotePayload struct {
	MsgType string        `json:"msgtype"`
	Text    *TextPayload  `json:"text,omitempty"`
	Image   *ImagePayload `json:"image,omitempty"`
	Mixed   *MixedPayload `json:"mixed,omitempty"`
	Voice   *VoicePayload `json:"voice,omitempty"`
	File    *FilePayload  `json:"file,omitempty"`
}

// EventPayload carries a non-message event notification.
type EventPayload struct {
	EventType         string             `json:"eventtype"`
	EnterChat         *struct{}          `json:"enter_chat,omitempty"`
	TemplateCardEvent *TemplateCardEvent `json:"template_card_event,omitempty"`
	FeedbackEvent     *FeedbackEvent     `json:"feedback_event,omitempty"`
}

// TemplateCardEvent reports a user's interaction with a template card.
type TemplateCardEvent struct {
	CardType      string         `json:"card_type"`
	EventKey      string         `json:"event_key"`
	TaskID        string         `json:"task_id"`
	SelectedItems *SelectedItems `json:"selected_items,omitempty"`
}

// SelectedItems wraps the selection results of a template card submit event.
type SelectedItems struct {
	SelectedItem []SelectedItem `json:"selected_item"`
}

// SelectedItem is a single selector's chosen option ids.
type SelectedItem struct {
	QuestionKey string     `json:"question_key"`
	OptionIDs   *OptionIDs `json:"option_ids,omitempty"`
}

// OptionIDs is the list of chosen option ids for one selector.
type OptionIDs struct {
	OptionID []string `json:"option_id"`
}

// FeedbackEvent reports a user's thumbs up/down/cancel on a reply.
type FeedbackEvent struct {
	ID                   string `json:"id"`
	Type                 int    `json:"type"`
	Content              string `json:"content,omitempty"`
	InaccurateReasonList []int  `json:"inaccurate_reason_list,omitempty"`
}

// AttachmentPayload carries a smart-app callback's action list.
type AttachmentPayload struct {
	CallbackID string `json:"callback_id"`
	Actions    []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
		Type  string `json:"type"`
	} `json:"actions"`
}

// StreamReplyBody is the plaintext body of a Bot-channel reply.
type StreamReplyBody struct {
	ID      string      `json:"id"`
	Finish  bool        `json:"finish"`
	Content string      `json:"content"`
	MsgItem []MixedItem `json:"msg_item,omitempty"`
}

// StreamReply is a full Bot-channel plaintext reply envelope.
type StreamReply struct {
	MsgType string          `json:"msgtype"`
	Stream  StreamReplyBody `json:"stream"`
}

// BuildStreamReply constructs the plaintext reply body for one stream
// refresh cycle.
func BuildStreamReply(streamID, content string, finish bool) StreamReply {
	return StreamReply{
		MsgType: "stream",
		Stream: StreamReplyBody{
			ID:      streamID,
			Finish:  finish,
			Content: content,
		},
	}
}

// BuildStreamReplyWithItems is BuildStreamReply plus trailing image/mixed
// items, used on the terminal refresh of a reply containing media.
func BuildStreamReplyWithItems(streamID, content string, finish bool, items []MixedItem) StreamReply {
	reply := BuildStreamReply(streamID, content, finish)
	reply.Stream.MsgItem = items
	return reply
}

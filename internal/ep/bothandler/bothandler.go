// Package bothandler implements the Bot (JSON, passive-stream) webhook
// handler (C6), adapted from the teacher's platform/wecom.Bot but wired
// onto the conversation-level admission matrix in internal/ep/stream
// instead of the teacher's flat per-message SessionManager.
package bothandler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xl370869-art/wecom/internal/botcore"
	"github.com/xl370869-art/wecom/internal/envelope"
	"github.com/xl370869-art/wecom/internal/ep/agent"
	"github.com/xl370869-art/wecom/internal/epmsg"
	"github.com/xl370869-art/wecom/internal/ep/stream"
	"github.com/xl370869-art/wecom/internal/metrics"
)

// defaultPlaceholderContent is the spec's default streamPlaceholderContent
// (§4.6): the literal string returned for a brand-new active batch before
// any agent output has arrived.
const defaultPlaceholderContent = "1"

// queuedPlaceholderContent and mergedPlaceholderContent are the spec's
// localized placeholder strings for queued_new and the two merged statuses
// respectively (§4.6).
const (
	queuedPlaceholderContent = "已收到，已排队处理中..."
	mergedPlaceholderContent = "已收到，已合并排队处理中..."
)

// ErrNoResponse signals that the business layer wants a bare 200 OK with
// no body, not an empty stream-start packet.
var ErrNoResponse = errors.New("bothandler: no response")

// maxBodyBytes caps the POST body the handler will read, matching EP's own
// payload ceiling and guarding against abusive clients.
const maxBodyBytes = 1 << 20

// Handler serves one account's Bot-channel webhook.
type Handler struct {
	Codec         *envelope.Codec
	Streams       *stream.StreamStore
	Conversations *stream.ConversationStore
	Pipeline      botcore.PipelineInvoker
	Adapter       botcore.Adapter
	Emitter       botcore.Emitter
	Timeout       time.Duration
	Logger        *logrus.Logger

	// PlaceholderContent is the configured streamPlaceholderContent
	// (spec §4.6), returned for a fresh active_new batch. Defaults to
	// defaultPlaceholderContent when empty.
	PlaceholderContent string
	// WelcomeText replies to an enter_chat event, if configured.
	WelcomeText string
}

// Option customizes a Handler.
type Option func(*Handler)

// WithAdapter overrides the default message normalizer.
func WithAdapter(a botcore.Adapter) Option { return func(h *Handler) { h.Adapter = a } }

// WithEmitter overrides the default stream-reply encoder.
func WithEmitter(e botcore.Emitter) Option { return func(h *Handler) { h.Emitter = e } }

// WithLogger attaches a structured logger.
func WithLogger(l *logrus.Logger) Option { return func(h *Handler) { h.Logger = l } }

// WithPlaceholderContent overrides the default "1" active_new placeholder.
func WithPlaceholderContent(content string) Option {
	return func(h *Handler) { h.PlaceholderContent = content }
}

// WithWelcomeText sets the reply sent for an enter_chat event.
func WithWelcomeText(text string) Option { return func(h *Handler) { h.WelcomeText = text } }

// New builds a Handler. codec is required; pipeline may be nil for a
// handler that only echoes URL verification.
func New(codec *envelope.Codec, streams *stream.StreamStore, conversations *stream.ConversationStore, pipeline botcore.PipelineInvoker, timeout time.Duration, opts ...Option) (*Handler, error) {
	if codec == nil {
		return nil, errors.New("bothandler: codec is required")
	}
	if streams == nil {
		streams = stream.NewStreamStore(0)
	}
	if conversations == nil {
		conversations = stream.NewConversationStore(streams)
	}
	h := &Handler{
		Codec:         codec,
		Streams:       streams,
		Conversations: conversations,
		Pipeline:      pipeline,
		Timeout:       timeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.Adapter == nil {
		h.Adapter = botcore.AdapterFunc(normalizeMessage)
	}
	if h.Emitter == nil {
		h.Emitter = botcore.EmitterFunc(encodeStreamReply)
	}
	return h, nil
}

// ServeHTTP dispatches URL verification (GET) and message callbacks (POST).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleCallback(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sig, ts, nonce, echo := q.Get("msg_signature"), q.Get("timestamp"), q.Get("nonce"), q.Get("echostr")
	if sig == "" || ts == "" || nonce == "" || echo == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}
	plain, err := h.Codec.VerifyURL(sig, ts, nonce, echo)
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(plain))
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	h.Streams.Prune()
	h.Conversations.PruneQueues()

	q := r.URL.Query()
	sig, ts, nonce := q.Get("msg_signature"), q.Get("timestamp"), q.Get("nonce")
	if sig == "" || ts == "" || nonce == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	defer r.Body.Close()
	if err != nil || len(body) > maxBodyBytes {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var req envelope.EncryptedRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Encrypt == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	plain, err := h.Codec.OpenJSON(sig, ts, nonce, req)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var msg epmsg.Message
	if err := json.Unmarshal(plain, &msg); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var resp envelope.EncryptedResponse
	switch {
	case msg.Stream != nil && msg.MsgType == "stream":
		resp, err = h.refresh(&msg, ts, nonce)
	case msg.MsgType == "event" && msg.Event != nil:
		resp, err = h.handleEvent(&msg, ts, nonce)
	default:
		resp, err = h.initial(&msg, ts, nonce)
	}

	if errors.Is(err, ErrNoResponse) {
		metrics.InboundTotal.WithLabelValues("bot", "no_response").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		metrics.InboundTotal.WithLabelValues("bot", "error").Inc()
		if h.Logger != nil {
			h.Logger.WithError(err).Warn("bothandler: callback failed")
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	metrics.InboundTotal.WithLabelValues("bot", "ok").Inc()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(data)
}

func (h *Handler) conversationKey(msg *epmsg.Message) string {
	if msg.From.CorpID != "" {
		return msg.From.CorpID + ":" + msg.ChatID
	}
	return msg.ChatID
}

// placeholderFor picks the spec §4.6 placeholder content for one admission
// outcome: the configured streamPlaceholderContent for a fresh active
// batch, a localized "queued" notice for a brand-new queued batch, or a
// localized "merged" notice shared by both merged statuses.
//
// placeholderFor 根据准入结果选择首次应答的占位内容：
// active_new 用配置的占位符，queued_new 用"已排队"提示，
// 两种 merged 状态共用"已合并排队"提示。
func (h *Handler) placeholderFor(status stream.AdmitStatus) string {
	switch status {
	case stream.StatusQueuedNew:
		return queuedPlaceholderContent
	case stream.StatusActiveMerged, stream.StatusQueuedMerged:
		return mergedPlaceholderContent
	default:
		if h.PlaceholderContent != "" {
			return h.PlaceholderContent
		}
		return defaultPlaceholderContent
	}
}

// initial 处理首次到达（非 stream/event 类型）的回调：归一化消息、
// 调用准入状态机得到占位内容，随后在短窗口内尝试同步拿到第一个分片，
// 超时则转入异步消费，占位内容作为兜底应答返回。
func (h *Handler) initial(msg *epmsg.Message, ts, nonce string) (envelope.EncryptedResponse, error) {
	if existingID, dup := h.Streams.GetStreamIDByMsg(msg.MsgID); msg.MsgID != "" && dup {
		// A redelivered msg-id answers with the stream it is already bound
		// to instead of being admitted a second time.
		reply, err := h.buildReply(h.Streams.GetUpdate(existingID), existingID, botcore.StreamChunk{})
		if err != nil {
			return envelope.EncryptedResponse{}, err
		}
		return h.Codec.SealJSON(reply, ts, nonce)
	}

	update, err := h.Adapter.Normalize(msg)
	if err != nil {
		return envelope.EncryptedResponse{}, err
	}

	admit := h.Conversations.Admit(h.conversationKey(msg), msg.MsgID, msg.ChatID, msg.From.UserID, update.Text)
	h.Streams.SetUpdate(admit.StreamID, update)

	placeholder := h.placeholderFor(admit.Status)
	initialChunk := botcore.StreamChunk{Content: placeholder, IsFinal: false}
	if admit.Merged {
		// The ack stream is not finished but already carries its merged
		// notice, so a client polling it via msgtype=stream sees the same
		// content until the batch it was folded into completes.
		h.Streams.Accumulate(admit.StreamID, placeholder)
	}

	if admit.Dispatch && h.Pipeline != nil {
		outCh := h.Pipeline.Trigger(update, admit.StreamID)
		if outCh != nil {
			select {
			case chunk, ok := <-outCh:
				if !ok {
					h.Streams.MarkFinished(admit.StreamID)
					initialChunk = botcore.StreamChunk{Content: "", IsFinal: true}
					break
				}
				if chunk.Payload == botcore.NoResponse {
					h.Streams.MarkFinished(admit.StreamID)
					return envelope.EncryptedResponse{}, ErrNoResponse
				}
				if chunk.Payload != nil {
					if chunk.IsFinal {
						h.Streams.MarkFinished(admit.StreamID)
					}
					go h.consumePipeline(outCh, msg.MsgID, admit.StreamID)
					reply, err := h.buildReply(update, admit.StreamID, chunk)
					if err != nil {
						return envelope.EncryptedResponse{}, err
					}
					return h.Codec.SealJSON(reply, ts, nonce)
				}
				h.Streams.Accumulate(admit.StreamID, chunk.Content)
				initialChunk = chunk
				if chunk.IsFinal {
					h.Streams.MarkFinished(admit.StreamID)
				}
				go h.consumePipeline(outCh, msg.MsgID, admit.StreamID)
			case <-time.After(200 * time.Millisecond):
				go h.consumePipeline(outCh, msg.MsgID, admit.StreamID)
			}
		}
	}

	reply, err := h.buildReply(update, admit.StreamID, initialChunk)
	if err != nil {
		return envelope.EncryptedResponse{}, err
	}
	return h.Codec.SealJSON(reply, ts, nonce)
}

// handleEvent dispatches the two recognized msgtype=event eventtypes
// (spec §4.6); any other eventtype gets a bare 200 with no body.
func (h *Handler) handleEvent(msg *epmsg.Message, ts, nonce string) (envelope.EncryptedResponse, error) {
	switch msg.Event.EventType {
	case "template_card_event":
		return h.handleTemplateCardEvent(msg, ts, nonce)
	case "enter_chat":
		return h.handleEnterChat(msg, ts, nonce)
	default:
		return envelope.EncryptedResponse{}, ErrNoResponse
	}
}

// handleEnterChat replies with the configured welcome text, or an empty
// stream frame if none is configured.
func (h *Handler) handleEnterChat(msg *epmsg.Message, ts, nonce string) (envelope.EncryptedResponse, error) {
	reply := epmsg.BuildStreamReply("", h.WelcomeText, true)
	return h.Codec.SealJSON(reply, ts, nonce)
}

// handleTemplateCardEvent dedupes by msg-id, builds a synthetic text
// description of the card interaction, and invokes the agent driver with
// it as a one-shot dispatch outside the conversation admission matrix --
// the card's own click is not part of an ongoing batch. The synchronous
// reply is always an empty stream frame; any visible reply is pushed
// later through the response-url.
func (h *Handler) handleTemplateCardEvent(msg *epmsg.Message, ts, nonce string) (envelope.EncryptedResponse, error) {
	empty := func() (envelope.EncryptedResponse, error) {
		return h.Codec.SealJSON(epmsg.BuildStreamReply("", "", true), ts, nonce)
	}

	if _, dup := h.Streams.GetStreamIDByMsg(msg.MsgID); dup {
		return empty()
	}

	st, _ := h.Streams.CreateOrGet(msg.MsgID, msg.ChatID, msg.From.UserID)
	h.Streams.Accumulate(st.StreamID, "") // marks the stream claimed/started

	key := h.conversationKey(msg)
	h.Conversations.SetResponseURL(key, msg.ResponseURL)

	update := botcore.Update{
		ID:       msg.MsgID,
		SenderID: msg.From.UserID,
		ChatID:   msg.ChatID,
		ChatType: msg.ChatType,
		Text:     buildTemplateCardEventText(msg.Event.TemplateCardEvent),
		Raw:      msg,
		Metadata: map[string]string{"platform": "ep-bot", "response_url": msg.ResponseURL},
	}
	h.Streams.SetUpdate(st.StreamID, update)

	if h.Pipeline != nil {
		if outCh := h.Pipeline.Trigger(update, st.StreamID); outCh != nil {
			go h.consumePipeline(outCh, msg.MsgID, st.StreamID)
		}
	}

	return empty()
}

// buildTemplateCardEventText renders a template_card_event into the
// synthetic message text the agent driver receives, describing the
// clicked button, any selector choices, and the originating task id.
func buildTemplateCardEventText(ev *epmsg.TemplateCardEvent) string {
	if ev == nil {
		return "[template_card_event]"
	}
	var b strings.Builder
	b.WriteString("[template_card_event]")
	if ev.EventKey != "" {
		b.WriteString(" button=")
		b.WriteString(ev.EventKey)
	}
	if ev.TaskID != "" {
		b.WriteString(" task_id=")
		b.WriteString(ev.TaskID)
	}
	if ev.SelectedItems != nil {
		for _, item := range ev.SelectedItems.SelectedItem {
			b.WriteString(" ")
			b.WriteString(item.QuestionKey)
			b.WriteString("=")
			if item.OptionIDs != nil {
				b.WriteString(strings.Join(item.OptionIDs.OptionID, ","))
			}
		}
	}
	return b.String()
}

func (h *Handler) refresh(msg *epmsg.Message, ts, nonce string) (envelope.EncryptedResponse, error) {
	streamID := ""
	if msg.Stream != nil {
		streamID = msg.Stream.ID
	}
	if streamID == "" {
		reply, err := h.buildReply(botcore.Update{}, "", botcore.StreamChunk{IsFinal: true})
		if err != nil {
			return envelope.EncryptedResponse{}, err
		}
		return h.Codec.SealJSON(reply, ts, nonce)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	chunk := h.Streams.Consume(streamID, timeout)
	if chunk == nil {
		update := h.Streams.GetUpdate(streamID)
		reply, err := h.buildReply(update, streamID, botcore.StreamChunk{Content: "", IsFinal: false})
		if err != nil {
			return envelope.EncryptedResponse{}, err
		}
		return h.Codec.SealJSON(reply, ts, nonce)
	}

	if chunk.IsFinal {
		h.Streams.MarkFinished(streamID)
		h.promoteQueued(msg)
	}

	update := h.Streams.GetUpdate(streamID)
	reply, err := h.buildReply(update, streamID, *chunk)
	if err != nil {
		return envelope.EncryptedResponse{}, err
	}
	return h.Codec.SealJSON(reply, ts, nonce)
}

// promoteQueued kicks the next queued batch (if any) into the active slot
// and re-triggers the pipeline for it, once the current stream finishes.
func (h *Handler) promoteQueued(msg *epmsg.Message) {
	key := h.conversationKey(msg)
	promoted := h.Conversations.OnStreamFinished(key)
	if promoted == nil || h.Pipeline == nil {
		return
	}
	merged := mergeBatchText(promoted)
	update := botcore.Update{
		ID:       promoted.Messages[len(promoted.Messages)-1].MsgID,
		ChatID:   msg.ChatID,
		SenderID: msg.From.UserID,
		Text:     merged,
	}
	h.Streams.SetUpdate(promoted.StreamID, update)
	outCh := h.Pipeline.Trigger(update, promoted.StreamID)
	if outCh != nil {
		go h.consumePipeline(outCh, "", promoted.StreamID)
	}
}

func mergeBatchText(batch *stream.ConversationQueueEntry) string {
	merged := ""
	for i, m := range batch.Messages {
		if i > 0 {
			merged += "\n"
		}
		merged += m.Text
	}
	return merged
}

func (h *Handler) consumePipeline(outCh <-chan botcore.StreamChunk, msgID, streamID string) {
	if outCh == nil {
		return
	}
	for chunk := range outCh {
		if chunk.Content == "" && chunk.Payload == nil && !chunk.IsFinal {
			continue
		}
		h.Streams.Publish(streamID, chunk)
		if chunk.IsFinal {
			h.Streams.MarkFinished(streamID)
		}
	}
	_ = msgID
}

func (h *Handler) buildReply(update botcore.Update, streamID string, chunk botcore.StreamChunk) (interface{}, error) {
	if chunk.Payload != nil {
		return chunk.Payload, nil
	}
	if h.Emitter == nil {
		return epmsg.BuildStreamReply(streamID, chunk.Content, chunk.IsFinal), nil
	}
	return h.Emitter.Encode(update, streamID, chunk)
}

// normalizeMessage builds the botcore.Update the conversation/agent layers
// work with. Text mirrors the agent driver's own per-msgtype body table
// (spec §4.8 step 1, agent.BuildInboundBody) so image/file/mixed/link/
// location payloads admit and route on the same recognized content a
// plain-text message would, instead of collapsing to an empty string.
func normalizeMessage(raw interface{}) (botcore.Update, error) {
	msg, ok := raw.(*epmsg.Message)
	if !ok {
		return botcore.Update{}, errors.New("bothandler: unexpected raw message type")
	}
	text := agent.BuildInboundBody(msg)
	return botcore.Update{
		ID:       msg.MsgID,
		SenderID: msg.From.UserID,
		ChatID:   msg.ChatID,
		ChatType: msg.ChatType,
		Text:     text,
		Raw:      msg,
		Metadata: map[string]string{"platform": "ep-bot", "response_url": msg.ResponseURL},
	}, nil
}

func encodeStreamReply(_ botcore.Update, streamID string, chunk botcore.StreamChunk) (interface{}, error) {
	return epmsg.BuildStreamReply(streamID, chunk.Content, chunk.IsFinal), nil
}

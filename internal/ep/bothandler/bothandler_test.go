package bothandler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/xl370869-art/wecom/internal/botcore"
	"github.com/xl370869-art/wecom/internal/envelope"
	"github.com/xl370869-art/wecom/internal/epmsg"
	"github.com/xl370869-art/wecom/internal/ep/stream"
)

func testCodec(t *testing.T) *envelope.Codec {
	t.Helper()
	codec, err := envelope.NewCodec("testtoken123", "0123456789abcdefghijklmnopqrstuvwxyzABCDEFG", "corpid123")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func TestHandleVerifyEchoesDecryptedString(t *testing.T) {
	codec := testCodec(t)
	h, err := New(codec, nil, nil, nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sealed, err := codec.Seal([]byte("hello-echo"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ts := "1700000000"
	nonce := "abcde"
	sig := envelope.Signature("testtoken123", ts, nonce, sealed)

	req := httptest.NewRequest(http.MethodGet, "/?"+url.Values{
		"msg_signature": {sig},
		"timestamp":     {ts},
		"nonce":         {nonce},
		"echostr":       {sealed},
	}.Encode(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello-echo" {
		t.Fatalf("expected echoed plaintext, got %q", rec.Body.String())
	}
}

func TestHandleCallbackInitialDispatchesPipeline(t *testing.T) {
	codec := testCodec(t)
	streams := stream.NewStreamStore(time.Minute)
	conversations := stream.NewConversationStore(streams)

	pipeline := botcore.PipelineFunc(func(update botcore.Update, streamID string) <-chan botcore.StreamChunk {
		ch := make(chan botcore.StreamChunk, 1)
		ch <- botcore.StreamChunk{Content: "hi " + update.Text, IsFinal: true}
		close(ch)
		return ch
	})

	h, err := New(codec, streams, conversations, pipeline, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msg := epmsg.Message{
		MsgID:   "msg-1",
		ChatID:  "chat-1",
		ChatType: "single",
		From:    epmsg.MessageSender{UserID: "user-1"},
		MsgType: "text",
		Text:    &epmsg.TextPayload{Content: "there"},
	}
	rec := postMessage(t, h, codec, msg)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp envelope.EncryptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	plain, err := codec.Open(resp.Encrypt)
	if err != nil {
		t.Fatalf("decrypt response: %v", err)
	}
	var reply epmsg.StreamReply
	if err := json.Unmarshal(plain, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Stream.Content != "hi there" || !reply.Stream.Finish {
		t.Fatalf("unexpected reply: %#v", reply)
	}
}

// TestHandleCallbackQueuedGetsLocalizedPlaceholder locks in spec §4.6: a
// second message landing on an unstarted initial batch queues instead of
// merging (Case B) and the synchronous reply carries the queued placeholder,
// not the default streamPlaceholderContent.
func TestHandleCallbackQueuedGetsLocalizedPlaceholder(t *testing.T) {
	codec := testCodec(t)
	streams := stream.NewStreamStore(time.Minute)
	conversations := stream.NewConversationStore(streams)

	block := make(chan struct{})
	pipeline := botcore.PipelineFunc(func(update botcore.Update, streamID string) <-chan botcore.StreamChunk {
		ch := make(chan botcore.StreamChunk, 1)
		go func() {
			<-block
			ch <- botcore.StreamChunk{Content: "done", IsFinal: true}
			close(ch)
		}()
		return ch
	})
	defer close(block)

	h, err := New(codec, streams, conversations, pipeline, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := epmsg.Message{
		ChatID:   "chat-1",
		ChatType: "single",
		From:     epmsg.MessageSender{UserID: "user-1"},
		MsgType:  "text",
	}
	first := base
	first.MsgID = "msg-1"
	first.Text = &epmsg.TextPayload{Content: "first"}
	if rec := postMessage(t, h, codec, first); rec.Code != http.StatusOK {
		t.Fatalf("first message: expected 200, got %d", rec.Code)
	}

	second := base
	second.MsgID = "msg-2"
	second.Text = &epmsg.TextPayload{Content: "second"}
	rec := postMessage(t, h, codec, second)
	if rec.Code != http.StatusOK {
		t.Fatalf("second message: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp envelope.EncryptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	plain, err := codec.Open(resp.Encrypt)
	if err != nil {
		t.Fatalf("decrypt response: %v", err)
	}
	var reply epmsg.StreamReply
	if err := json.Unmarshal(plain, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Stream.Content != queuedPlaceholderContent {
		t.Fatalf("expected queued placeholder %q, got %q", queuedPlaceholderContent, reply.Stream.Content)
	}
	if reply.Stream.ID == "" {
		t.Fatalf("expected a distinct stream id for the queued batch")
	}
}

// TestHandleCallbackEnterChatRepliesWithWelcomeText covers the msgtype=event
// enter_chat branch (spec §4.6).
func TestHandleCallbackEnterChatRepliesWithWelcomeText(t *testing.T) {
	codec := testCodec(t)
	h, err := New(codec, nil, nil, nil, 0, WithWelcomeText("欢迎使用"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msg := epmsg.Message{
		MsgID:   "msg-enter",
		ChatID:  "chat-1",
		From:    epmsg.MessageSender{UserID: "user-1"},
		MsgType: "event",
		Event:   &epmsg.EventPayload{EventType: "enter_chat"},
	}
	rec := postMessage(t, h, codec, msg)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp envelope.EncryptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	plain, err := codec.Open(resp.Encrypt)
	if err != nil {
		t.Fatalf("decrypt response: %v", err)
	}
	var reply epmsg.StreamReply
	if err := json.Unmarshal(plain, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Stream.Content != "欢迎使用" || !reply.Stream.Finish {
		t.Fatalf("unexpected welcome reply: %#v", reply)
	}
}

// TestHandleCallbackTemplateCardEventDedupesByMsgID covers the
// msgtype=event template_card_event branch: the synchronous reply is always
// an empty finished stream frame, and a redelivery of the same msg-id is a
// no-op rather than a second dispatch.
func TestHandleCallbackTemplateCardEventDedupesByMsgID(t *testing.T) {
	codec := testCodec(t)
	streams := stream.NewStreamStore(time.Minute)
	conversations := stream.NewConversationStore(streams)

	dispatches := 0
	pipeline := botcore.PipelineFunc(func(update botcore.Update, streamID string) <-chan botcore.StreamChunk {
		dispatches++
		ch := make(chan botcore.StreamChunk, 1)
		ch <- botcore.StreamChunk{Content: "ack", IsFinal: true}
		close(ch)
		return ch
	})

	h, err := New(codec, streams, conversations, pipeline, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msg := epmsg.Message{
		MsgID:       "msg-card-1",
		ChatID:      "chat-1",
		From:        epmsg.MessageSender{UserID: "user-1"},
		MsgType:     "event",
		ResponseURL: "https://example.invalid/webhook/send?key=abc",
		Event: &epmsg.EventPayload{
			EventType:         "template_card_event",
			TemplateCardEvent: &epmsg.TemplateCardEvent{EventKey: "confirm", TaskID: "task-1"},
		},
	}

	for i := 0; i < 2; i++ {
		rec := postMessage(t, h, codec, msg)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
		var resp envelope.EncryptedResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("attempt %d: unmarshal response: %v", i, err)
		}
		plain, err := codec.Open(resp.Encrypt)
		if err != nil {
			t.Fatalf("attempt %d: decrypt response: %v", i, err)
		}
		var reply epmsg.StreamReply
		if err := json.Unmarshal(plain, &reply); err != nil {
			t.Fatalf("attempt %d: unmarshal reply: %v", i, err)
		}
		if reply.Stream.Content != "" || !reply.Stream.Finish {
			t.Fatalf("attempt %d: expected an empty finished frame, got %#v", i, reply)
		}
	}

	time.Sleep(20 * time.Millisecond) // let the first dispatch's goroutine run
	if dispatches != 1 {
		t.Fatalf("expected exactly 1 dispatch across both deliveries, got %d", dispatches)
	}
	if _, ok := conversations.ResponseURL(h.conversationKey(&msg)); !ok {
		t.Fatalf("expected response_url to be recorded for the template card conversation")
	}
}

func postMessage(t *testing.T, h *Handler, codec *envelope.Codec, msg epmsg.Message) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal msg: %v", err)
	}
	sealed, err := codec.Seal(raw)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	ts := "1700000000"
	nonce := "noncenonce"
	sig := envelope.Signature("testtoken123", ts, nonce, sealed)

	body, err := json.Marshal(envelope.EncryptedRequest{Encrypt: sealed})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/?"+url.Values{
		"msg_signature": {sig},
		"timestamp":     {ts},
		"nonce":         {nonce},
	}.Encode(), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

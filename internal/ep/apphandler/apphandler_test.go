package apphandler

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xl370869-art/wecom/internal/botcore"
	"github.com/xl370869-art/wecom/internal/envelope"
	"github.com/xl370869-art/wecom/internal/epmsg"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendText(_ context.Context, _, _, toUser, _, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, toUser+":"+content)
	return nil
}

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
	h := New(codec, nil, nil, "1000002", nil)

	sealed, err := codec.Seal([]byte("app-echo"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ts, nonce := "1700000000", "nonce1"
	sig := envelope.Signature("testtoken123", ts, nonce, sealed)

	req := httptest.NewRequest(http.MethodGet, "/?"+url.Values{
		"msg_signature": {sig},
		"timestamp":     {ts},
		"nonce":         {nonce},
		"echostr":       {sealed},
	}.Encode(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "app-echo" {
		t.Fatalf("unexpected verify response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandleCallbackAcksImmediatelyAndDispatches(t *testing.T) {
	codec := testCodec(t)
	sender := &fakeSender{}
	pipeline := botcore.PipelineFunc(func(update botcore.Update, _ string) <-chan botcore.StreamChunk {
		ch := make(chan botcore.StreamChunk, 1)
		ch <- botcore.StreamChunk{Content: "reply to " + update.Text, IsFinal: true}
		close(ch)
		return ch
	})
	h := New(codec, pipeline, sender, "1000002", func(context.Context) (string, error) { return "tok", nil })

	appMsg := epmsg.AppMessage{
		ToUserName:   "corp",
		FromUserName: "user-1",
		MsgType:      "text",
		Content:      "hello",
		MsgId:        42,
		AgentID:      1000002,
	}
	raw, err := xml.Marshal(appMsg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	sealed, err := codec.Seal(raw)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	ts, nonce := "1700000000", "nonce2"
	sig := envelope.Signature("testtoken123", ts, nonce, sealed)
	body, err := xml.Marshal(envelope.EncryptedEnvelope{Encrypt: sealed})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/?"+url.Values{
		"msg_signature": {sig},
		"timestamp":     {ts},
		"nonce":         {nonce},
	}.Encode(), strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "success" {
		t.Fatalf("expected immediate success ack, got %d %q", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sender.mu.Lock()
		n := len(sender.sent)
		sender.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 || sender.sent[0] != "user-1:reply to hello" {
		t.Fatalf("unexpected sent messages: %#v", sender.sent)
	}
}

func TestMarkSeenDedupesRedelivery(t *testing.T) {
	h := New(testCodec(t), nil, nil, "1000002", nil)
	if h.markSeen(7) {
		t.Fatalf("first sighting should not be marked seen")
	}
	if !h.markSeen(7) {
		t.Fatalf("redelivery should be deduped")
	}
}

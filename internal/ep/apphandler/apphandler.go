// Package apphandler implements the Application (XML, active-API) webhook
// handler (C7). Unlike the Bot channel, EP's Application callback protocol
// has no passive-stream contract: the handler must ack the callback
// immediately with a bare "success" body and deliver the actual reply
// later through the Application send API (internal/ep/client), so this
// package has no teacher analogue and is built fresh in the teacher's
// handler style (net/http, context-scoped dispatch, structured logging).
package apphandler

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xl370869-art/wecom/internal/botcore"
	"github.com/xl370869-art/wecom/internal/envelope"
	"github.com/xl370869-art/wecom/internal/epmsg"
	"github.com/xl370869-art/wecom/internal/metrics"
)

const maxBodyBytes = 1 << 20

// dedupeTTL bounds how long a processed Application msg id is remembered,
// matching the channel's own redelivery retry window.
const dedupeTTL = 10 * time.Minute

// Sender is the outbound surface the handler needs from internal/ep/client,
// kept narrow so apphandler doesn't import the concrete HTTP client.
type Sender interface {
	SendText(ctx context.Context, proxyURL, token, toUser, agentID, content string) error
}

// Handler serves one account's Application-channel webhook.
type Handler struct {
	Codec    *envelope.Codec
	Pipeline botcore.PipelineInvoker
	Adapter  botcore.Adapter
	Sender   Sender
	ProxyURL string
	AgentID  string
	TokenFn  func(ctx context.Context) (string, error)
	Logger   *logrus.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// New builds a Handler.
func New(codec *envelope.Codec, pipeline botcore.PipelineInvoker, sender Sender, agentID string, tokenFn func(context.Context) (string, error)) *Handler {
	return &Handler{
		Codec:    codec,
		Pipeline: pipeline,
		Adapter:  botcore.AdapterFunc(normalizeAppMessage),
		Sender:   sender,
		AgentID:  agentID,
		TokenFn:  tokenFn,
		seen:     make(map[string]time.Time),
	}
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

	plain, err := h.Codec.OpenXML(sig, ts, nonce, body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var msg epmsg.AppMessage
	if err := xml.Unmarshal(plain, &msg); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Application callbacks must be acked immediately; EP treats a slow or
	// missing "success" as delivery failure and retries aggressively.
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))

	if h.markSeen(msg.MsgId) {
		metrics.InboundTotal.WithLabelValues("app", "duplicate").Inc()
		return
	}
	metrics.InboundTotal.WithLabelValues("app", "accepted").Inc()
	go h.dispatch(msg)
}

// markSeen returns true if msgID was already processed within dedupeTTL,
// and records it otherwise. Zero msgIDs (some events carry none) are
// never deduped.
func (h *Handler) markSeen(msgID int64) bool {
	if msgID == 0 {
		return false
	}
	key := strconv.FormatInt(msgID, 10)
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for id, at := range h.seen {
		if now.Sub(at) > dedupeTTL {
			delete(h.seen, id)
		}
	}
	if _, ok := h.seen[key]; ok {
		return true
	}
	h.seen[key] = now
	return false
}

func (h *Handler) dispatch(msg epmsg.AppMessage) {
	if h.Pipeline == nil || h.Adapter == nil {
		return
	}
	defer metrics.ObserveDispatch("app", time.Now())
	update, err := h.Adapter.Normalize(&msg)
	if err != nil {
		if h.Logger != nil {
			h.Logger.WithError(err).Warn("apphandler: normalize failed")
		}
		return
	}

	outCh := h.Pipeline.Trigger(update, "")
	if outCh == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Minute)
	defer cancel()

	var final string
	for chunk := range outCh {
		if chunk.Payload == botcore.NoResponse {
			return
		}
		if chunk.Content != "" {
			final = chunk.Content
		}
	}
	if final == "" || h.Sender == nil || h.TokenFn == nil {
		return
	}
	token, err := h.TokenFn(ctx)
	if err != nil {
		if h.Logger != nil {
			h.Logger.WithError(err).Warn("apphandler: token fetch failed")
		}
		return
	}
	if err := h.Sender.SendText(ctx, h.ProxyURL, token, update.SenderID, h.AgentID, final); err != nil {
		if h.Logger != nil {
			h.Logger.WithError(err).Warn("apphandler: send failed")
		}
	}
}

func normalizeAppMessage(raw interface{}) (botcore.Update, error) {
	msg, ok := raw.(*epmsg.AppMessage)
	if !ok {
		return botcore.Update{}, nil
	}
	text := msg.Content
	if msg.MsgType == "event" {
		text = msg.Event + ":" + msg.EventKey
	}
	return botcore.Update{
		ID:       strconv.FormatInt(msg.MsgId, 10),
		SenderID: msg.FromUserName,
		ChatID:   msg.FromUserName, // Application channel is 1:1, no group chat id
		ChatType: "single",
		Text:     text,
		Raw:      msg,
		Metadata: map[string]string{
			"platform": "ep-app",
			"agentid":  strconv.FormatInt(msg.AgentID, 10),
		},
	}, nil
}

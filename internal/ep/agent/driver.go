package agent

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xl370869-art/wecom/internal/command"
	"github.com/xl370869-art/wecom/internal/ep/client"
)

// clientMediaSender adapts internal/ep/client.Client into the agent
// package's narrow MediaSender surface, so blocks.go never needs to know
// about HTTP or token plumbing.
type clientMediaSender struct {
	c        *client.Client
	proxyURL string
	tokenFn  func(ctx context.Context) (string, error)
	agentID  string
	ctx      context.Context
}

// NewClientMediaSender builds the default MediaSender the composition root
// wires for accounts with Application credentials configured, backed by
// the outbound EP client (C3).
func NewClientMediaSender(ctx context.Context, c *client.Client, proxyURL, agentID string, tokenFn func(context.Context) (string, error)) MediaSender {
	return clientMediaSender{c: c, proxyURL: proxyURL, agentID: agentID, tokenFn: tokenFn, ctx: ctx}
}

func (s clientMediaSender) UploadAndSendFile(userID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	token, err := s.tokenFn(s.ctx)
	if err != nil {
		return err
	}
	mediaID, err := s.c.UploadMedia(s.ctx, s.proxyURL, token, "file", filepath.Base(path), data)
	if err != nil {
		return err
	}
	return s.c.SendMedia(s.ctx, s.proxyURL, token, userID, s.agentID, "file", mediaID)
}

func (s clientMediaSender) FetchRemoteImage(url string) ([]byte, string, error) {
	token, err := s.tokenFn(s.ctx)
	if err != nil {
		return nil, "", err
	}
	// Remote images referenced by the agent are fetched by URL rather than
	// by EP media id, with http.DefaultClient; s.proxyURL is not applied
	// to this request.
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", err
	}
	sum := md5.Sum(data)
	_ = token // the direct-URL fetch path doesn't need EP auth; token kept for symmetry/future signed-URL support
	return data, hex.EncodeToString(sum[:]), nil
}

// Driver wires the agent runtime (C8) to its collaborators: the command
// parser/policy, the outbound client (C3, for DM fallback), and the
// failover policy table (C9). It holds no HTTP-handler state of its own;
// internal/ep/bothandler and internal/ep/apphandler call into it from
// their respective request paths.
type Driver struct {
	Runtime      AgentRuntime
	Parser       command.Parser
	Policy       CommandPolicy
	TableMode    TableMode
	ToolDenyList []string // tool names to keep closed; Run does not pass it to the runtime
	Logger       *logrus.Logger
}

// NewDriver builds a Driver whose ToolDenyList holds "message". The list
// is only recorded on the Driver: Run does not hand it to Runtime.Dispatch,
// so the dispatched agent gets no tool restriction from it.
func NewDriver(runtime AgentRuntime, policy CommandPolicy, tableMode TableMode) *Driver {
	if policy == nil {
		policy = AllowAllCommands
	}
	return &Driver{
		Runtime:      runtime,
		Parser:       command.NewParser(),
		Policy:       policy,
		TableMode:    tableMode,
		ToolDenyList: []string{"message"},
	}
}

// AuthorizationDenied is returned by Run when the raw body parses as a
// command the policy refuses; the caller should write the Chinese prompt
// and mark the stream finished without dispatching.
var AuthorizationDenied = errors.New("agent: command not authorized")

// ChunkObserver is notified after every block folds into state, so a
// channel handler can stream progress (e.g. refresh polls) instead of
// waiting for the whole dispatch to finish. content is the batch's
// current visible answer; payload is non-nil only for a terminal
// non-text reply (a template card).
type ChunkObserver func(content string, isFinal bool, payload interface{})

// Run executes the full agent-driver flow (spec §4.8) for one batch:
// pre-intent short-circuit, command authorization, dispatch, per-block
// processing, and finalization. sender may be nil when no Application
// credentials are configured for the account (DM fallback becomes a
// no-op, matching the "unconfigured Application fallback" policy row).
// observer may be nil; when set, it is called after each block is folded
// into state and once more after Finalize, except when a template card
// ended the stream (its final call carries the card payload instead). On
// the send-local-file pre-intent path it is called once, with the final
// result.
func (d *Driver) Run(ctx context.Context, in InboundContext, route Route, state *BatchState, sender MediaSender, applicationConfigured bool, ackStreamIDs []string, observer ChunkObserver) (FinalizeResult, interface{}, error) {
	isCommand, authorized := authorizeCommand(d.Parser, d.Policy, route, in.RawBody)
	if isCommand && !authorized {
		return FinalizeResult{}, nil, AuthorizationDenied
	}

	if isSendLocalFileIntent(in.RawBody) {
		result, payload, err := d.runSendLocalFileIntent(state, sender)
		if err == nil && observer != nil {
			observer(result.StreamContent, true, payload)
		}
		return result, payload, err
	}

	in.CommandAuthorized = authorized

	blocks, err := d.Runtime.Dispatch(ctx, in)
	if err != nil {
		return FinalizeResult{}, nil, err
	}

	var cardPayload interface{}
	for block := range blocks {
		if payload := ProcessBlock(state, block, d.TableMode, sender, time.Now()); payload != nil {
			cardPayload = payload
			if observer != nil {
				observer(state.Content, true, payload)
			}
			break
		}
		if observer != nil {
			observer(state.Content, false, nil)
		}
		if state.Finished {
			break
		}
	}

	isReset := isCommand && (firstToken(d.Parser, in.RawBody) == "new" || firstToken(d.Parser, in.RawBody) == "reset")
	if isReset {
		if suppressed, rewritten := rewriteCommandAck(state.Content, in.Provider == "ep-bot"); suppressed {
			state.Content = ""
		} else {
			state.Content = rewritten
		}
	}
	result := Finalize(state, isReset, applicationConfigured, ackStreamIDs, time.Now())
	if observer != nil && cardPayload == nil {
		observer(result.StreamContent, true, nil)
	}
	return result, cardPayload, nil
}

func (d *Driver) runSendLocalFileIntent(state *BatchState, sender MediaSender) (FinalizeResult, interface{}, error) {
	paths := extractCandidatePaths(state.RawBody)
	images, others := classifyLocalPaths(paths)

	if len(others) == 0 {
		for _, p := range images {
			processMediaItem(state, p, sender)
		}
		state.Content = "已发送图片"
		state.Finished = true
		return Finalize(state, false, false, nil, time.Now()), nil, nil
	}

	for _, p := range others {
		processMediaItem(state, p, sender)
	}
	return Finalize(state, false, false, nil, time.Now()), nil, nil
}

func firstToken(p command.Parser, rawBody string) string {
	result := p.Parse(rawBody)
	if !result.IsCommand || len(result.Tokens) == 0 {
		return ""
	}
	return result.Tokens[0]
}

// rewriteCommandAck implements spec §4.8.4: suppress an English session
// ack bound for a Bot-session target (the driver writes its own Chinese
// ack directly into the stream instead), or translate it to Chinese for
// an Application-session target. Called from Run once a dispatch turns
// out to be a /new or /reset command, before Finalize.
func rewriteCommandAck(ack string, targetIsBotSession bool) (suppressed bool, rewritten string) {
	if targetIsBotSession {
		return true, ""
	}
	switch ack {
	case "Conversation reset.":
		return false, "会话已重置。"
	case "New conversation started.":
		return false, "已开始新会话。"
	default:
		return false, ack
	}
}

package agent

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xl370869-art/wecom/internal/epmsg"
	"github.com/xl370869-art/wecom/internal/ep/failover"
)

// thinkTagSpan matches a <think>...</think> block, including across
// newlines, so chain-of-thought content survives table conversion intact.
var thinkTagSpan = regexp.MustCompile(`(?s)<think>.*?</think>`)

const thinkPlaceholderPrefix = "\x00THINK-SPAN-"

// protectThinkTags replaces every <think>...</think> span with an opaque
// placeholder and returns the rewritten text plus the spans to restore
// afterward, so markdown-table conversion never reaches inside them
// (spec §4.8.1 think-tag protection).
func protectThinkTags(text string) (string, []string) {
	var spans []string
	rewritten := thinkTagSpan.ReplaceAllStringFunc(text, func(match string) string {
		spans = append(spans, match)
		return placeholderFor(len(spans) - 1)
	})
	return rewritten, spans
}

func placeholderFor(i int) string {
	return thinkPlaceholderPrefix + strconv.Itoa(i) + "\x00"
}

func restoreThinkTags(text string, spans []string) string {
	for i, span := range spans {
		text = strings.Replace(text, placeholderFor(i), span, 1)
	}
	return text
}

// renderBlockText applies think-tag protection and table-mode conversion
// to one delivered block's text (spec §4.8.1).
func renderBlockText(text string, mode TableMode) string {
	protected, spans := protectThinkTags(text)
	converted := convertTables(protected, mode)
	return restoreThinkTags(converted, spans)
}

// isTemplateCardJSON reports whether trimmed text looks like a template
// card payload (spec §4.8.1 template-card detection).
func isTemplateCardJSON(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"template_card"`)
}

// BatchState is the mutable accumulator threaded through one batch's block
// delivery callback (spec §4.8.1/§4.8.5).
type BatchState struct {
	StreamID     string
	ChatID       string
	UserID       string
	IsGroup      bool
	ResponseURL  string
	RawBody      string
	CreatedAt    time.Time

	Content          string // visible Bot-stream answer, monotonically growing, capped at streamMaxBytes
	DMContent        string // accumulated DM-fallback buffer, capped at dmMaxBytes
	FallbackMode     string // "", "media", "timeout"
	FinalDeliveredAt *time.Time
	Images           []epmsg.MixedItem
	AgentMediaKeys   map[string]bool
	PromptPushed     bool
	Finished         bool
}

// NewBatchState seeds a BatchState for one batch.
func NewBatchState(streamID, chatID, userID string, isGroup bool, responseURL, rawBody string, createdAt time.Time) *BatchState {
	return &BatchState{
		StreamID:       streamID,
		ChatID:         chatID,
		UserID:         userID,
		IsGroup:        isGroup,
		ResponseURL:    responseURL,
		RawBody:        rawBody,
		CreatedAt:      createdAt,
		AgentMediaKeys: make(map[string]bool),
	}
}

// timedOut reports whether the batch is within timeoutMargin of the Bot
// channel's 6-minute window (spec §4.8.1 timeout check).
func (b *BatchState) timedOut(now time.Time) bool {
	return b.FallbackMode != "timeout" && now.Sub(b.CreatedAt) >= botWindow-timeoutMargin
}

// MediaSender is the narrow outbound surface block processing needs for
// DM-fallback delivery (C3), kept as an interface so the agent package
// doesn't import the concrete HTTP client.
type MediaSender interface {
	UploadAndSendFile(userID, path string) error
	FetchRemoteImage(url string) (data []byte, md5sum string, err error)
}

// ProcessBlock folds one delivered Block into state, applying think-tag
// protection, table conversion, template-card detection, timeout
// fallback, and per-block media handling (spec §4.8.1). It returns a
// TemplateCard payload when the block turned out to be one (the caller
// sends it immediately and stops), or nil otherwise.
func ProcessBlock(state *BatchState, block Block, mode TableMode, sender MediaSender, now time.Time) interface{} {
	if state.Finished {
		return nil
	}

	if state.timedOut(now) {
		state.FallbackMode = "timeout"
		state.Finished = true
		state.Content = "剩余内容将通过私信发送"
		state.PromptPushed = true
		return nil
	}

	rendered := renderBlockText(block.Text, mode)

	if isTemplateCardJSON(rendered) {
		if !state.IsGroup && state.ResponseURL != "" {
			state.Finished = true
			state.Content = "[已发送交互卡片]"
			return map[string]interface{}{"msgtype": "template_card", "template_card": rendered}
		}
		// Group chat or no response-url: degrade to plain text instead.
		rendered = renderCardAsText(rendered)
	}

	state.DMContent = capRight(state.DMContent+block.Text, dmMaxBytes)

	for _, path := range modelInferredImagePaths(block.Text, state.RawBody) {
		processMediaItem(state, path, sender)
	}

	mediaURLs := block.MediaURLs
	if block.MediaURL != "" {
		mediaURLs = append(mediaURLs, block.MediaURL)
	}
	for _, url := range mediaURLs {
		processMediaItem(state, url, sender)
	}

	if state.FallbackMode == "" {
		state.Content = capLeft(state.Content+rendered, streamMaxBytes)
	}
	return nil
}

func processMediaItem(state *BatchState, url string, sender MediaSender) {
	if isLocalImagePathCandidate(url) {
		if data, err := os.ReadFile(url); err == nil {
			sum := md5.Sum(data)
			state.Images = append(state.Images, epmsg.MixedItem{
				MsgType: "image",
				Image: &epmsg.ImagePayload{
					Base64: base64.StdEncoding.EncodeToString(data),
					MD5:    strings.ToUpper(hex.EncodeToString(sum[:])),
				},
			})
		}
		return
	}

	if sender == nil {
		return
	}

	if looksLikeImageURL(url) {
		if data, md5sum, err := sender.FetchRemoteImage(url); err == nil {
			state.Images = append(state.Images, epmsg.MixedItem{
				MsgType: "image",
				Image: &epmsg.ImagePayload{
					Base64: base64.StdEncoding.EncodeToString(data),
					MD5:    md5sum,
				},
			})
		}
		return
	}

	// Non-image file: DM fallback, deduped per batch.
	if state.AgentMediaKeys[url] {
		return
	}
	state.AgentMediaKeys[url] = true
	if state.FallbackMode == "" {
		state.FallbackMode = "media"
	}
	if !state.PromptPushed {
		state.Content = failover.Decide(failover.TriggerNonImageAttachment, failover.ChannelBot).Prompt
		state.PromptPushed = true
	}
	_ = sender.UploadAndSendFile(state.UserID, url)
}

func isLocalImagePathCandidate(url string) bool {
	return localImagePath.MatchString(url)
}

func looksLikeImageURL(url string) bool {
	lower := strings.ToLower(url)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func capLeft(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

func capRight(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func renderCardAsText(jsonText string) string {
	// Best-effort degrade: a full template-card renderer belongs to the
	// runtime's UI layer; here we just surface that a card was downgraded.
	return "[交互卡片内容]\n" + jsonText
}


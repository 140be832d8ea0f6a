package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/xl370869-art/wecom/internal/epmsg"
)

func TestBuildInboundBodyText(t *testing.T) {
	msg := &epmsg.Message{Text: &epmsg.TextPayload{Content: "hello there"}}
	if got := BuildInboundBody(msg); got != "hello there" {
		t.Fatalf("got %q", got)
	}
}

func TestBuildInboundBodyWithQuote(t *testing.T) {
	msg := &epmsg.Message{
		Text:  &epmsg.TextPayload{Content: "reply"},
		Quote: &epmsg.QuotePayload{Text: &epmsg.TextPayload{Content: "original"}},
	}
	got := BuildInboundBody(msg)
	if !strings.Contains(got, "reply") || !strings.Contains(got, "> original") {
		t.Fatalf("unexpected body: %q", got)
	}
}

func TestBuildInboundBodyStreamRefresh(t *testing.T) {
	msg := &epmsg.Message{MsgType: "stream", Stream: &epmsg.StreamPayload{ID: "abc123"}}
	if got := BuildInboundBody(msg); got != "[stream_refresh] abc123" {
		t.Fatalf("got %q", got)
	}
}

func TestProtectThinkTagsSurvivesTableConversion(t *testing.T) {
	text := "<think>| a | b |\n|---|---|\n| 1 | 2 |</think>\nafter"
	rendered := renderBlockText(text, TableModeFlatten)
	if !strings.Contains(rendered, "<think>") || !strings.Contains(rendered, "| a | b |") {
		t.Fatalf("expected think span to survive untouched, got %q", rendered)
	}
}

func TestConvertTablesFlattensOutsideThinkTags(t *testing.T) {
	text := "| name | age |\n|---|---|\n| bob | 30 |"
	got := convertTables(text, TableModeFlatten)
	if !strings.Contains(got, "name: bob") || !strings.Contains(got, "age: 30") {
		t.Fatalf("expected flattened row, got %q", got)
	}
}

func TestConvertTablesPassthroughInMarkdownMode(t *testing.T) {
	text := "| name | age |\n|---|---|\n| bob | 30 |"
	if got := convertTables(text, TableModeMarkdown); got != text {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestModelInferredImagePathsRequiresMatchInRawBody(t *testing.T) {
	raw := "please look at /tmp/photo.png"
	blockText := "here is /tmp/photo.png for you"
	paths := modelInferredImagePaths(blockText, raw)
	if len(paths) != 1 || paths[0] != "/tmp/photo.png" {
		t.Fatalf("expected exactly the raw-body path, got %#v", paths)
	}
}

func TestModelInferredImagePathsRejectsUnseenPath(t *testing.T) {
	raw := "no paths mentioned here"
	blockText := "here is /tmp/secret.png"
	if paths := modelInferredImagePaths(blockText, raw); len(paths) != 0 {
		t.Fatalf("expected no candidates, got %#v", paths)
	}
}

func TestIsSendLocalFileIntent(t *testing.T) {
	if !isSendLocalFileIntent("帮我发 /tmp/report.pdf 给客户") {
		t.Fatalf("expected pre-intent to be detected")
	}
	if isSendLocalFileIntent("just chatting about /tmp/report.pdf") {
		t.Fatalf("expected no pre-intent without a send verb")
	}
}

func TestClassifyLocalPaths(t *testing.T) {
	images, others := classifyLocalPaths([]string{"/tmp/a.png", "/tmp/b.pdf", "/Users/x/c.jpg"})
	if len(images) != 2 || len(others) != 1 {
		t.Fatalf("unexpected classification: images=%v others=%v", images, others)
	}
}

func TestProcessBlockAccumulatesTextUpToCap(t *testing.T) {
	state := NewBatchState("s1", "chat1", "user1", false, "", "hi", time.Now())
	ProcessBlock(state, Block{Text: "hello "}, TableModeMarkdown, nil, time.Now())
	ProcessBlock(state, Block{Text: "world"}, TableModeMarkdown, nil, time.Now())
	if state.Content != "hello world" {
		t.Fatalf("unexpected content: %q", state.Content)
	}
}

func TestProcessBlockTimeoutFallback(t *testing.T) {
	state := NewBatchState("s1", "chat1", "user1", true, "https://example.invalid/push", "hi", time.Now().Add(-7*time.Minute))
	ProcessBlock(state, Block{Text: "late content"}, TableModeMarkdown, nil, time.Now())
	if state.FallbackMode != "timeout" || !state.Finished {
		t.Fatalf("expected timeout fallback, got %#v", state)
	}
}

func TestProcessBlockTemplateCardDirectChat(t *testing.T) {
	state := NewBatchState("s1", "chat1", "user1", false, "https://example.invalid/push", "hi", time.Now())
	cardJSON := `{"template_card": {"card_type": "text_notice"}}`
	payload := ProcessBlock(state, Block{Text: cardJSON}, TableModeMarkdown, nil, time.Now())
	if payload == nil {
		t.Fatalf("expected a template card payload")
	}
	if !state.Finished || state.Content != "[已发送交互卡片]" {
		t.Fatalf("unexpected state after template card: %#v", state)
	}
}

func TestProcessBlockTemplateCardDegradesInGroup(t *testing.T) {
	state := NewBatchState("s1", "chat1", "user1", true, "https://example.invalid/push", "hi", time.Now())
	cardJSON := `{"template_card": {"card_type": "text_notice"}}`
	payload := ProcessBlock(state, Block{Text: cardJSON}, TableModeMarkdown, nil, time.Now())
	if payload != nil {
		t.Fatalf("expected no direct card payload in a group chat")
	}
	if state.Finished {
		t.Fatalf("expected the batch to continue as ordinary text")
	}
}

func TestFinalizeResetCommandWithNoContent(t *testing.T) {
	state := NewBatchState("s1", "chat1", "user1", false, "", "", time.Now())
	result := Finalize(state, true, false, nil, time.Now())
	if result.StreamContent != "已重置会话" || !result.StreamFinished {
		t.Fatalf("unexpected finalize result: %#v", result)
	}
}

func TestFinalizeTimeoutDeliversDMChunksOnce(t *testing.T) {
	state := NewBatchState("s1", "chat1", "user1", false, "", "", time.Now())
	state.FallbackMode = "timeout"
	state.DMContent = strings.Repeat("a", 10)

	first := Finalize(state, false, true, nil, time.Now())
	if len(first.DMChunks) != 1 {
		t.Fatalf("expected one dm chunk, got %#v", first.DMChunks)
	}
	if state.FinalDeliveredAt == nil {
		t.Fatalf("expected FinalDeliveredAt to be set")
	}

	second := Finalize(state, false, true, nil, time.Now())
	if second.DMChunks != nil {
		t.Fatalf("expected no second delivery, got %#v", second.DMChunks)
	}
}

func TestFinalizeGroupImagePush(t *testing.T) {
	state := NewBatchState("s1", "chat1", "user1", true, "https://example.invalid/push", "", time.Now())
	state.Images = append(state.Images, epmsg.MixedItem{MsgType: "image"})
	result := Finalize(state, false, false, nil, time.Now())
	if len(result.StreamImages) != 1 {
		t.Fatalf("expected the accumulated image to be pushed, got %#v", result.StreamImages)
	}
}

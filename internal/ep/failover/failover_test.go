package failover

import "testing"

func TestDecideNonImageAttachmentOnBot(t *testing.T) {
	d := Decide(TriggerNonImageAttachment, ChannelBot)
	if d.Prompt == "" || !d.MarkFinished || !d.AttemptDM || d.FallbackReason != "media" {
		t.Fatalf("unexpected decision: %#v", d)
	}
}

func TestDecideWindowTimeoutOnBot(t *testing.T) {
	d := Decide(TriggerWindowTimeout, ChannelBot)
	if d.FallbackReason != "timeout" || !d.MarkFinished || !d.AttemptDM {
		t.Fatalf("unexpected decision: %#v", d)
	}
}

func TestDecideGroupChatTargetRefusesOnBothChannels(t *testing.T) {
	if d := Decide(TriggerGroupChatTarget, ChannelBot); !d.Refuse {
		t.Fatalf("expected bot channel to refuse group chat target")
	}
	d := Decide(TriggerGroupChatTarget, ChannelApp)
	if !d.Refuse || d.Prompt == "" {
		t.Fatalf("expected application channel to refuse with guidance, got %#v", d)
	}
}

func TestDecideUnconfiguredApplicationIsNoopOnApp(t *testing.T) {
	d := Decide(TriggerUnconfiguredApplication, ChannelApp)
	if d.Prompt != "" || d.MarkFinished || d.AttemptDM {
		t.Fatalf("expected no-op decision on application channel, got %#v", d)
	}
}

func TestChunkDMSplitsLongContent(t *testing.T) {
	content := make([]byte, DMChunkSize*2+10)
	for i := range content {
		content[i] = 'a'
	}
	chunks := ChunkDM(string(content))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != DMChunkSize || len(chunks[2]) != 10 {
		t.Fatalf("unexpected chunk sizes: %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestChunkDMEmptyReturnsNil(t *testing.T) {
	if chunks := ChunkDM(""); chunks != nil {
		t.Fatalf("expected nil for empty content, got %#v", chunks)
	}
}

package stream

import (
	"testing"
	"time"

	"github.com/xl370869-art/wecom/internal/botcore"
)

func TestCreateOrGetDedupesByMsgID(t *testing.T) {
	s := NewStreamStore(time.Minute)
	a, created := s.CreateOrGet("msg-1", "chat-1", "user-1")
	if !created {
		t.Fatalf("expected first CreateOrGet to create a new stream")
	}
	b, created := s.CreateOrGet("msg-1", "chat-1", "user-1")
	if created {
		t.Fatalf("expected second CreateOrGet to reuse the existing stream")
	}
	if a.StreamID != b.StreamID {
		t.Fatalf("expected same stream id, got %s vs %s", a.StreamID, b.StreamID)
	}
}

func TestPublishAccumulatesFullContent(t *testing.T) {
	s := NewStreamStore(time.Minute)
	st, _ := s.CreateOrGet("msg-1", "chat-1", "user-1")

	s.Publish(st.StreamID, botcore.StreamChunk{Content: "hello "})
	s.Publish(st.StreamID, botcore.StreamChunk{Content: "world", IsFinal: true})

	chunk := s.Consume(st.StreamID, 50*time.Millisecond)
	if chunk == nil {
		t.Fatalf("expected a chunk")
	}
	if chunk.Content != "hello world" {
		t.Fatalf("expected accumulated full content, got %q", chunk.Content)
	}
	if !chunk.IsFinal {
		t.Fatalf("expected final flag to be set")
	}
}

func TestConsumeFallsBackToLastChunkWhenFinished(t *testing.T) {
	s := NewStreamStore(time.Minute)
	st, _ := s.CreateOrGet("msg-1", "chat-1", "user-1")
	s.Publish(st.StreamID, botcore.StreamChunk{Content: "done", IsFinal: true})
	// drain the first chunk so the queue is empty for the next Consume
	s.Consume(st.StreamID, 50*time.Millisecond)

	chunk := s.Consume(st.StreamID, 20*time.Millisecond)
	if chunk == nil || chunk.Content != "done" {
		t.Fatalf("expected fallback to last chunk, got %#v", chunk)
	}
}

func TestConsumeReturnsNilWhenNotFinishedAndEmpty(t *testing.T) {
	s := NewStreamStore(time.Minute)
	st, _ := s.CreateOrGet("msg-1", "chat-1", "user-1")
	chunk := s.Consume(st.StreamID, 20*time.Millisecond)
	if chunk != nil {
		t.Fatalf("expected nil chunk on timeout with nothing finished, got %#v", chunk)
	}
}

func TestPruneRemovesExpiredStreams(t *testing.T) {
	s := NewStreamStore(time.Millisecond)
	st, _ := s.CreateOrGet("msg-1", "chat-1", "user-1")
	time.Sleep(5 * time.Millisecond)
	s.Prune()
	if s.get(st.StreamID) != nil {
		t.Fatalf("expected stream to be pruned")
	}
	if _, ok := s.GetStreamIDByMsg("msg-1"); ok {
		t.Fatalf("expected msg index entry to be pruned too")
	}
}

func TestNewAckStreamHasNoMsgBinding(t *testing.T) {
	s := NewStreamStore(time.Minute)
	ack := s.NewAckStream("chat-1", "user-1")
	if _, ok := s.GetStreamIDByMsg(""); ok {
		t.Fatalf("ack stream should not register under an empty msg id")
	}
	if s.get(ack.StreamID) == nil {
		t.Fatalf("ack stream should still be retrievable by id")
	}
}

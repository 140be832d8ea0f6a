package command

import (
	"strings"
	"testing"
	"time"

	"github.com/xl370869-art/wecom/internal/botcore"
)

func drain(t *testing.T, ch <-chan botcore.StreamChunk) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return sb.String()
			}
			sb.WriteString(chunk.Content)
			if chunk.IsFinal {
				return sb.String()
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream to finish")
		}
	}
}

func TestDefaultFactoryPing(t *testing.T) {
	mgr := NewManager(NewDefaultFactory(), NewMemoryStore())
	out := mgr.Trigger(botcore.Update{ChatID: "c1", SenderID: "u1", Text: "/ping"}, "stream-1")
	got := drain(t, out)
	if !strings.Contains(got, "pong") {
		t.Fatalf("output = %q, want it to contain %q", got, "pong")
	}
}

func TestDefaultFactoryModelRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(NewDefaultFactory(), store)
	update := botcore.Update{ChatID: "c1", SenderID: "u1"}

	update.Text = "/model gpt-5"
	if got := drain(t, mgr.Trigger(update, "s1")); !strings.Contains(got, "model set to gpt-5") {
		t.Fatalf("set output = %q", got)
	}

	update.Text = "/model"
	if got := drain(t, mgr.Trigger(update, "s2")); !strings.Contains(got, "gpt-5") {
		t.Fatalf("get output = %q, want it to contain the persisted model", got)
	}
}

func TestDefaultFactoryUnrecognizedText(t *testing.T) {
	mgr := NewManager(NewDefaultFactory(), NewMemoryStore())
	got := drain(t, mgr.Trigger(botcore.Update{ChatID: "c1", SenderID: "u1", Text: "just chatting"}, "s1"))
	if !strings.Contains(got, "unrecognized command") {
		t.Fatalf("output = %q, want an unrecognized-command message", got)
	}
}

package command

import (
	"testing"

	"github.com/xl370869-art/wecom/internal/botcore"
)

func TestStreamWriterIncremental(t *testing.T) {
	ch := make(chan botcore.StreamChunk, 10)
	w := NewStreamWriter(ch)

	if _, err := w.Write([]byte("Hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := w.Write([]byte(" World")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case chunk1 := <-ch:
		if chunk1.Content != "Hello" {
			t.Errorf("expected first chunk 'Hello', got %q", chunk1.Content)
		}
	default:
		t.Fatal("expected chunk available")
	}

	select {
	case chunk2 := <-ch:
		if chunk2.Content != " World" {
			t.Errorf("expected second chunk ' World' (incremental), got %q", chunk2.Content)
		}
	default:
		t.Fatal("expected second chunk available")
	}
}

func TestParserDetectsCommand(t *testing.T) {
	p := NewParser()
	res := p.Parse("/new hello world")
	if !res.IsCommand {
		t.Fatalf("expected command detection")
	}
	if res.Tokens[0] != "new" || len(res.Tokens) != 3 {
		t.Fatalf("unexpected tokens: %#v", res.Tokens)
	}
	if res.ArgumentRaw != "hello world" {
		t.Fatalf("unexpected argument raw: %q", res.ArgumentRaw)
	}
}

func TestParserIgnoresPlainText(t *testing.T) {
	p := NewParser()
	res := p.Parse("hello there")
	if res.IsCommand {
		t.Fatalf("expected non-command")
	}
}

func TestParserStripsMentionSuffix(t *testing.T) {
	p := NewParser()
	res := p.Parse("/reset@botname")
	if !res.IsCommand || res.Tokens[0] != "reset" {
		t.Fatalf("unexpected parse: %#v", res)
	}
}

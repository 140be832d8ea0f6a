package command

import "github.com/xl370869-art/wecom/internal/botcore"

// StreamWriter adapts io.Writer onto a StreamChunk channel so Cobra's
// stdout/stderr can be redirected straight into the streaming reply. Each
// Write call is forwarded as one incremental (non-final) chunk.
type StreamWriter struct {
	Ch chan<- botcore.StreamChunk
}

// NewStreamWriter wraps ch.
func NewStreamWriter(ch chan<- botcore.StreamChunk) *StreamWriter {
	return &StreamWriter{Ch: ch}
}

// Write implements io.Writer.
func (w *StreamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.Ch <- botcore.StreamChunk{Content: string(p), IsFinal: false}
	return len(p), nil
}

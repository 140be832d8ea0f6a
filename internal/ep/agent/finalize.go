package agent

import (
	"time"

	"github.com/xl370869-art/wecom/internal/epmsg"
	"github.com/xl370869-art/wecom/internal/ep/failover"
)

// FinalizeResult reports the side effects Finalize decided to perform, so
// the caller (the driver's HTTP-facing half) can push them through the
// right transport.
type FinalizeResult struct {
	StreamContent  string
	StreamFinished bool
	StreamImages   []epmsg.MixedItem
	DMChunks       []string // non-empty only on timeout final delivery
	AckedStreamIDs []string // auxiliary ack streams to close out
}

// AckMessage is the Chinese notice written into every ack stream belonging
// to a batch once it completes (spec §4.8.5).
const AckMessage = "已合并处理完成，请查看上一条回复。"

// Finalize implements spec §4.8.5: after agent dispatch returns, decide
// the stream's terminal content, whether a DM chunked delivery is owed,
// and whether accumulated images need one last passive-stream push.
func Finalize(state *BatchState, wasResetCommand bool, applicationConfigured bool, ackStreamIDs []string, now time.Time) FinalizeResult {
	if wasResetCommand && state.Content == "" {
		state.Content = "已重置会话"
	}
	state.Finished = true

	result := FinalizeResult{
		StreamContent:  state.Content,
		StreamFinished: true,
		AckedStreamIDs: ackStreamIDs,
	}

	if state.FallbackMode == "timeout" && state.FinalDeliveredAt == nil && applicationConfigured {
		result.DMChunks = failover.ChunkDM(state.DMContent)
		delivered := now
		state.FinalDeliveredAt = &delivered
	}

	if state.IsGroup && len(state.Images) > 0 && state.ResponseURL != "" {
		result.StreamImages = state.Images
	}

	return result
}

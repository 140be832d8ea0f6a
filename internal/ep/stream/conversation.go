package stream

import (
	"hash/fnv"
	"sync"
	"time"
)

// shardCount is the striping factor for the conversation-level lock. The
// conversation map is the new contention hot spot this layer adds on top
// of StreamStore's per-stream locking, so it gets its own sharded guard
// rather than one global mutex.
const shardCount = 32

// PendingInbound is one admitted user message folded into a batch, kept in
// arrival order so the agent driver can reconstruct "merged" prompts.
//
// PendingInbound 表示被纳入同一批次的一条用户消息。
type PendingInbound struct {
	MsgID   string    // 消息 ID
	Text    string    // 归一化后的正文
	Arrived time.Time // 到达时间，用于按序拼接
}

// ConversationQueueEntry is a batch of PendingInbound messages waiting for
// the conversation's active dispatch to finish before it becomes active
// itself.
//
// ConversationQueueEntry 表示排队中的批次，等待当前活跃批次结束后被提升。
type ConversationQueueEntry struct {
	StreamID string // the real stream that will carry the eventual reply — 真实流，被提升后即成为活跃流
	AckIDs   []string
	Messages []PendingInbound
	Started  bool // whether a debounce flush timer already fired once — 防抖计时器是否已触发过一次
	Created  time.Time
}

// ActiveReplyState tracks a conversation's current in-flight dispatch: the
// stream carrying it, and (for Bot-channel DM fallback) the most recent
// response_url, reusable for out-of-band pushes within its freshness
// window.
type ActiveReplyState struct {
	StreamID string

	// Initial is true only for the batch created directly by Case A (its
	// batchKey equals the conversationKey). A promoted queued batch
	// (OnStreamFinished) is never Initial. Spec §4.5.1 Case B turns on
	// exactly this distinction: the initial batch's reply is already
	// committed as the request's own stream placeholder, so a later
	// arrival may never fold into it -- only a promoted, not-yet-started
	// batch may (Case C).
	Initial bool
	AckIDs  []string

	ResponseURL string
	ResponseAt  time.Time
	Messages    []PendingInbound
}

type conversationState struct {
	mu     sync.Mutex
	active *ActiveReplyState
	queued *ConversationQueueEntry
}

// ConversationStore layers the debounce/admission state machine on top of
// a StreamStore: it decides, for each inbound message, whether to start a
// new dispatch, merge into what's running, or enqueue a follow-up batch.
type ConversationStore struct {
	streams *StreamStore
	shards  [shardCount]map[string]*conversationState
	locks   [shardCount]sync.Mutex

	queueTTL    time.Duration // pending batches older than this are dropped
	responseTTL time.Duration // response_url freshness window
}

// NewConversationStore builds a ConversationStore over streams.
func NewConversationStore(streams *StreamStore) *ConversationStore {
	cs := &ConversationStore{
		streams:     streams,
		queueTTL:    10 * time.Minute,
		responseTTL: 60 * time.Minute,
	}
	for i := range cs.shards {
		cs.shards[i] = make(map[string]*conversationState)
	}
	return cs
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (cs *ConversationStore) stateFor(key string) *conversationState {
	idx := shardIndex(key)
	cs.locks[idx].Lock()
	defer cs.locks[idx].Unlock()
	st, ok := cs.shards[idx][key]
	if !ok {
		st = &conversationState{}
		cs.shards[idx][key] = st
	}
	return st
}

// AdmitStatus is the spec's own admission vocabulary (§4.5.1), carried
// verbatim so callers never have to re-derive it from booleans.
type AdmitStatus string

const (
	StatusActiveNew    AdmitStatus = "active_new"
	StatusQueuedNew    AdmitStatus = "queued_new"
	StatusActiveMerged AdmitStatus = "active_merged"
	StatusQueuedMerged AdmitStatus = "queued_merged"
)

// AdmitResult reports what Admit decided for one inbound message.
type AdmitResult struct {
	StreamID    string      // stream to answer the triggering request with
	Status      AdmitStatus // spec §4.5.1 status literal
	Dispatch    bool        // true if the caller should trigger the agent pipeline now
	IsAckStream bool        // true if StreamID is an auxiliary ack stream, not the real one
	Merged      bool        // true if this message was folded into an existing batch
}

// Admit applies the admission matrix (spec P1-P5/§4.5.1) for one inbound
// message on conversationKey.
//
//   - Case A: no active dispatch and no queued batch -> start fresh
//     (active_new).
//   - Case B: an active dispatch exists and it is the *initial* batch
//     (batchKey == conversationKey), regardless of whether it has started
//     producing content -> never merge into it. Falls through to the
//     queued-batch rules below (queued_new/queued_merged), since the
//     initial batch's own reply is already the caller's committed
//     placeholder and must answer exactly the message that opened it.
//   - Case C: the active batch is a *promoted* queued batch (not Initial)
//     and has not yet produced any content -> fold the new message
//     straight into it (active_merged), since nothing has been returned
//     to a caller for it to contradict yet.
//   - Case D: a queued batch exists and has not started its own debounce
//     timer -> merge into it (queued_merged), via a dedicated ack stream.
//   - Case E: no queued batch exists yet, or the existing one already
//     started its debounce flush -> open a fresh queued batch with its
//     own real stream (queued_new); a queued batch that already started
//     flushing is left alone (never shorten or extend a timer in flight).
//
// 流程图（准入状态机，对应 spec §4.5.1）：
//
//	[收到消息]
//	     |
//	 active == nil?
//	 是           否
//	 |             |
//	[Case A      active 是初始批次(Initial)
//	 新建活跃流       或已产生内容?
//	 active_new]     是                 否
//	                  |                  |
//	             [落入下方           [Case C
//	              queued 分支]        合并进 active
//	                                  active_merged]
//	                  |
//	            queued == nil
//	            或 queued.Started?
//	            是              否
//	            |                |
//	      [Case E            [Case D
//	       新建 queued         合并进 queued
//	       queued_new]         queued_merged]
func (cs *ConversationStore) Admit(conversationKey, msgID, chatID, userID, text string) AdmitResult {
	state := cs.stateFor(conversationKey)
	state.mu.Lock()
	defer state.mu.Unlock()

	now := time.Now()

	// Case A.
	if state.active == nil {
		st, _ := cs.streams.CreateOrGet(msgID, chatID, userID)
		state.active = &ActiveReplyState{
			StreamID: st.StreamID,
			Initial:  true,
			Messages: []PendingInbound{{MsgID: msgID, Text: text, Arrived: now}},
		}
		return AdmitResult{StreamID: st.StreamID, Status: StatusActiveNew, Dispatch: true}
	}

	activeStream := cs.streams.get(state.active.StreamID)
	activeStarted := activeStream != nil && (activeStream.Accumulated != "" || activeStream.Finished)

	// Case C: the active batch is a promoted queued batch, not the
	// initial one, and still hasn't produced anything -> merge straight
	// in. A fresh ack stream still gets created and the merged msg-id is
	// bound to it (not to the active stream itself), matching the
	// merged-message contract §4.6 relies on for placeholder replay.
	if !state.active.Initial && !activeStarted {
		ack := cs.streams.NewAckStream(chatID, userID)
		cs.streams.BindMsg(msgID, ack.StreamID)
		state.active.AckIDs = append(state.active.AckIDs, ack.StreamID)
		state.active.Messages = append(state.active.Messages, PendingInbound{MsgID: msgID, Text: text, Arrived: now})
		return AdmitResult{StreamID: ack.StreamID, Status: StatusActiveMerged, Merged: true, IsAckStream: true}
	}

	// From here the active batch is either the initial one (Case B) or
	// already producing content -> this message can never land on it;
	// it goes into the queue instead.

	// Case E (no queued batch yet): open one with a real stream of its
	// own, not an ack stream -- it will become the eventual active
	// stream once promoted, so the triggering msg-id is bound to it
	// directly (a retry of this same msg-id should see the same
	// placeholder, not be re-admitted).
	if state.queued == nil {
		st, _ := cs.streams.CreateOrGet(msgID, chatID, userID)
		state.queued = &ConversationQueueEntry{
			StreamID: st.StreamID,
			Messages: []PendingInbound{{MsgID: msgID, Text: text, Arrived: now}},
			Created:  now,
		}
		return AdmitResult{StreamID: st.StreamID, Status: StatusQueuedNew}
	}

	// Case E (queued batch's own debounce flush already fired): it is no
	// longer safe to keep appending to it (never shorten or extend a
	// timer already in flight), so start the NEXT queued batch; the
	// running one keeps flushing independently.
	if state.queued.Started {
		st, _ := cs.streams.CreateOrGet(msgID, chatID, userID)
		state.queued = &ConversationQueueEntry{
			StreamID: st.StreamID,
			Messages: []PendingInbound{{MsgID: msgID, Text: text, Arrived: now}},
			Created:  now,
		}
		return AdmitResult{StreamID: st.StreamID, Status: StatusQueuedNew}
	}

	// Case D: merge into the existing, not-yet-flushed queued batch.
	ack := cs.streams.NewAckStream(chatID, userID)
	cs.streams.BindMsg(msgID, ack.StreamID)
	state.queued.AckIDs = append(state.queued.AckIDs, ack.StreamID)
	state.queued.Messages = append(state.queued.Messages, PendingInbound{MsgID: msgID, Text: text, Arrived: now})
	return AdmitResult{StreamID: ack.StreamID, Status: StatusQueuedMerged, Merged: true, IsAckStream: true}
}

// MarkQueueStarted flags conversationKey's queued batch as having begun its
// debounce flush, so further admissions fall into Case E instead of D.
func (cs *ConversationStore) MarkQueueStarted(conversationKey string) {
	state := cs.stateFor(conversationKey)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.queued != nil {
		state.queued.Started = true
	}
}

// OnStreamFinished promotes a conversation's queued batch (if any) into the
// active slot and returns it for dispatch, clearing the finished active
// dispatch first. Returns nil if there was nothing queued. The promoted
// batch's own stream (allocated back when its first message opened the
// queue, spec §4.5.1 Case E) carries forward as the new active stream
// unchanged -- it is never reallocated at promotion time.
func (cs *ConversationStore) OnStreamFinished(conversationKey string) *ConversationQueueEntry {
	state := cs.stateFor(conversationKey)
	state.mu.Lock()
	defer state.mu.Unlock()

	state.active = nil
	if state.queued == nil {
		return nil
	}

	promoted := state.queued
	state.queued = nil

	state.active = &ActiveReplyState{
		StreamID: promoted.StreamID,
		Initial:  false,
		AckIDs:   promoted.AckIDs,
		Messages: promoted.Messages,
	}
	return promoted
}

// SetResponseURL records the conversation's most recent Bot-channel
// response_url, for DM fallback once the 6-minute passive-stream window
// elapses.
func (cs *ConversationStore) SetResponseURL(conversationKey, responseURL string) {
	state := cs.stateFor(conversationKey)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.active == nil {
		// No batch admitted yet for this conversation; mark the
		// placeholder Initial so a later Admit never mistakes it for a
		// promoted batch eligible for a direct Case C merge.
		state.active = &ActiveReplyState{Initial: true}
	}
	state.active.ResponseURL = responseURL
	state.active.ResponseAt = time.Now()
}

// ResponseURL returns the conversation's response_url if it is still within
// its freshness window.
func (cs *ConversationStore) ResponseURL(conversationKey string) (string, bool) {
	state := cs.stateFor(conversationKey)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.active == nil || state.active.ResponseURL == "" {
		return "", false
	}
	if time.Since(state.active.ResponseAt) > cs.responseTTL {
		return "", false
	}
	return state.active.ResponseURL, true
}

// PruneQueues drops queued batches older than queueTTL across every
// conversation shard, per the 10-minute pending-batch invariant.
func (cs *ConversationStore) PruneQueues() {
	now := time.Now()
	for i := range cs.shards {
		cs.locks[i].Lock()
		for key, state := range cs.shards[i] {
			state.mu.Lock()
			if state.queued != nil && now.Sub(state.queued.Created) > cs.queueTTL {
				state.queued = nil
			}
			empty := state.active == nil && state.queued == nil
			state.mu.Unlock()
			if empty {
				delete(cs.shards[i], key)
			}
		}
		cs.locks[i].Unlock()
	}
}

// Package stream implements the stream & conversation store (C5): the
// per-stream publish/consume channel adapted from the teacher's
// pkg/platform/wecom.SessionManager, plus the conversation-level debounce
// and admission state machine the distilled spec adds on top of it.
package stream

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/xl370869-art/wecom/internal/botcore"
)

// StreamState is one stream's pub/sub state: a buffered channel of chunks
// plus the running "full content so far" snapshot the Bot channel's
// stream-refresh contract requires every response to carry.
//
// StreamState 表示一个流式会话的发布/订阅状态。
type StreamState struct {
	StreamID    string                   // 流式会话唯一标识
	MsgID       string                   // 触发本流的消息 ID（ack 流为空）
	ChatID      string                   // 所属聊天 ID
	UserID      string                   // 发起用户 ID
	Update      botcore.Update           // 标准化事件上下文
	CreatedAt   time.Time                // 创建时间
	LastAccess  time.Time                // 最近访问时间
	queue       chan botcore.StreamChunk // 缓冲队列，存储待下发的流式片段
	Finished    bool                     // 流是否已完成
	LastChunk   *botcore.StreamChunk     // 最近一次片段，用于超时兜底
	Accumulated string                   // 已累积的完整内容（企业微信要求"最新完整内容"语义）
	mu          sync.Mutex
}

// StreamStore manages the lifecycle of StreamStates, indexed by stream id
// and by the originating message id (for dedupe on redelivery).
type StreamStore struct {
	mu       sync.RWMutex
	streams  map[string]*StreamState
	msgIndex map[string]string
	ttl      time.Duration
}

// NewStreamStore builds a StreamStore; ttl<=0 falls back to 10 minutes per
// the gateway's stream pruning invariant.
func NewStreamStore(ttl time.Duration) *StreamStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StreamStore{
		streams:  make(map[string]*StreamState),
		msgIndex: make(map[string]string),
		ttl:      ttl,
	}
}

// CreateOrGet returns the existing stream bound to msgID, or creates one.
//
// 流程图：
//
//	[收到 msgID]
//	     |
//	 msgID 非空?
//	 是        否
//	 |          |
//	[查msgIndex] [直接新建]
//	 |
//	找到既有 stream?
//	是      否
//	|        |
//	[复用并续期] [新建并索引]
func (s *StreamStore) CreateOrGet(msgID, chatID, userID string) (*StreamState, bool) {
	if msgID != "" {
		if id, ok := s.GetStreamIDByMsg(msgID); ok {
			if existing := s.get(id); existing != nil {
				existing.touch()
				return existing, false
			}
		}
	}

	st := &StreamState{
		StreamID:   generateStreamID(),
		MsgID:      msgID,
		ChatID:     chatID,
		UserID:     userID,
		CreatedAt:  time.Now(),
		LastAccess: time.Now(),
		queue:      make(chan botcore.StreamChunk, 16),
	}
	s.mu.Lock()
	s.streams[st.StreamID] = st
	if msgID != "" {
		s.msgIndex[msgID] = st.StreamID
	}
	s.mu.Unlock()
	return st, true
}

// NewAckStream creates a stream with no msg-id binding, used for the
// admission matrix's auxiliary "ack" streams that point a second caller at
// a batch's eventual real stream.
func (s *StreamStore) NewAckStream(chatID, userID string) *StreamState {
	st := &StreamState{
		StreamID:   generateStreamID(),
		ChatID:     chatID,
		UserID:     userID,
		CreatedAt:  time.Now(),
		LastAccess: time.Now(),
		queue:      make(chan botcore.StreamChunk, 16),
	}
	s.mu.Lock()
	s.streams[st.StreamID] = st
	s.mu.Unlock()
	return st
}

// BindMsg maps msgID to an already-created streamID, so a retried delivery
// of that same message resolves to the same stream (e.g. an ack stream
// created for a merged arrival, spec §4.6) instead of being re-admitted.
func (s *StreamStore) BindMsg(msgID, streamID string) {
	if msgID == "" {
		return
	}
	s.mu.Lock()
	s.msgIndex[msgID] = streamID
	s.mu.Unlock()
}

// Accumulate folds content into a stream's running snapshot without
// publishing a chunk, for business logic that already answered the
// triggering request synchronously.
func (s *StreamStore) Accumulate(streamID, content string) bool {
	st := s.get(streamID)
	if st == nil {
		return false
	}
	st.mu.Lock()
	st.LastAccess = time.Now()
	st.Accumulated += content
	if st.LastChunk != nil {
		st.LastChunk.Content = st.Accumulated
	} else {
		st.LastChunk = &botcore.StreamChunk{Content: st.Accumulated}
	}
	st.mu.Unlock()
	return true
}

// Publish pushes chunk onto streamID's queue, folding its Content into the
// accumulated full-text snapshot (the Bot channel requires every refresh
// response to carry the complete text so far, not a delta).
func (s *StreamStore) Publish(streamID string, chunk botcore.StreamChunk) bool {
	st := s.get(streamID)
	if st == nil {
		return false
	}

	st.mu.Lock()
	st.LastAccess = time.Now()
	st.Accumulated += chunk.Content
	full := chunk
	full.Content = st.Accumulated
	st.LastChunk = &full
	finished := full.IsFinal
	st.mu.Unlock()

	select {
	case st.queue <- full:
	default:
		st.queue <- full
	}
	if finished {
		st.setFinished()
	}
	return true
}

// Consume blocks up to timeout for the next chunk, then drains whatever
// else is queued so the caller always gets the latest full-content
// snapshot rather than a stale intermediate one. On timeout it falls back
// to the stream's last chunk only if the stream has already finished.
func (s *StreamStore) Consume(streamID string, timeout time.Duration) *botcore.StreamChunk {
	st := s.get(streamID)
	if st == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	st.touch()

	select {
	case first := <-st.queue:
		latest := first
		finalSeen := first.IsFinal
		for drained := false; !drained; {
			select {
			case next := <-st.queue:
				latest = next
				if next.IsFinal {
					finalSeen = true
				}
			default:
				drained = true
			}
		}
		if finalSeen {
			latest.IsFinal = true
		}
		st.mu.Lock()
		st.LastAccess = time.Now()
		st.LastChunk = &latest
		if latest.IsFinal {
			st.Finished = true
		}
		st.mu.Unlock()
		return &latest
	case <-timer.C:
		st.mu.Lock()
		st.LastAccess = time.Now()
		var cached *botcore.StreamChunk
		if st.Finished && st.LastChunk != nil {
			clone := *st.LastChunk
			cached = &clone
		}
		st.mu.Unlock()
		return cached
	}
}

// MarkFinished marks streamID complete, making it eligible for fallback
// reads and subsequent pruning.
func (s *StreamStore) MarkFinished(streamID string) {
	if st := s.get(streamID); st != nil {
		st.setFinished()
	}
}

// SetUpdate binds the normalized Update to a stream, so later refresh
// requests can recover chat/sender context.
func (s *StreamStore) SetUpdate(streamID string, update botcore.Update) {
	if st := s.get(streamID); st != nil {
		st.mu.Lock()
		st.Update = update
		st.mu.Unlock()
	}
}

// GetUpdate returns the Update bound to streamID, or a zero value.
func (s *StreamStore) GetUpdate(streamID string) botcore.Update {
	st := s.get(streamID)
	if st == nil {
		return botcore.Update{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.Update
}

// GetStreamIDByMsg resolves msgID to its bound stream id, if any.
func (s *StreamStore) GetStreamIDByMsg(msgID string) (string, bool) {
	if msgID == "" {
		return "", false
	}
	s.mu.RLock()
	id, ok := s.msgIndex[msgID]
	s.mu.RUnlock()
	return id, ok
}

// Prune removes streams whose LastAccess exceeds the store's ttl.
func (s *StreamStore) Prune() {
	now := time.Now()
	s.mu.Lock()
	for id, st := range s.streams {
		st.mu.Lock()
		expired := now.Sub(st.LastAccess) > s.ttl
		msgID := st.MsgID
		st.mu.Unlock()
		if !expired {
			continue
		}
		delete(s.streams, id)
		if msgID != "" {
			if mapped, ok := s.msgIndex[msgID]; ok && mapped == id {
				delete(s.msgIndex, msgID)
			}
		}
	}
	s.mu.Unlock()
}

// Len reports the number of live streams, for the composition root's
// active-streams gauge.
func (s *StreamStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

func (s *StreamStore) get(streamID string) *StreamState {
	if streamID == "" {
		return nil
	}
	s.mu.RLock()
	st := s.streams[streamID]
	s.mu.RUnlock()
	return st
}

func (st *StreamState) touch() {
	st.mu.Lock()
	st.LastAccess = time.Now()
	st.mu.Unlock()
}

func (st *StreamState) setFinished() {
	st.mu.Lock()
	st.Finished = true
	st.LastAccess = time.Now()
	st.mu.Unlock()
}

func generateStreamID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

type storedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FileStore is a JSONL-per-session SessionStore, one file per conversation
// key, guarded by a single mutex (history files are small and infrequent).
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates baseDir if needed and returns a FileStore rooted there.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ai: create history dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// getFilePath resolves the JSONL path for sessionID, guarding against path
// traversal via filepath.Base.
func (s *FileStore) getFilePath(sessionID string) string {
	safeID := filepath.Base(sessionID)
	return filepath.Join(s.baseDir, safeID+".jsonl")
}

func (s *FileStore) appendToFile(path string, msg llms.ChatMessage) error {
	role := "system"
	switch msg.GetType() {
	case llms.ChatMessageTypeHuman:
		role = "user"
	case llms.ChatMessageTypeAI:
		role = "ai"
	case llms.ChatMessageTypeSystem:
		role = "system"
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetEscapeHTML(false)
	return encoder.Encode(storedMessage{Role: role, Content: msg.GetContent()})
}

// GetHistory reads every line of the session's JSONL file, tolerating and
// skipping malformed lines so one corrupted entry never breaks a session.
func (s *FileStore) GetHistory(ctx context.Context, sessionID string) ([]llms.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.getFilePath(sessionID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []llms.ChatMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var messages []llms.ChatMessage
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 5*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sm storedMessage
		if err := json.Unmarshal(line, &sm); err != nil {
			continue
		}
		switch sm.Role {
		case "user":
			messages = append(messages, llms.HumanChatMessage{Content: sm.Content})
		case "ai":
			messages = append(messages, llms.AIChatMessage{Content: sm.Content})
		default:
			messages = append(messages, llms.SystemChatMessage{Content: sm.Content})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ai: scan history: %w", err)
	}
	return messages, nil
}

// AddUserMessage appends a user turn.
func (s *FileStore) AddUserMessage(ctx context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendToFile(s.getFilePath(sessionID), llms.HumanChatMessage{Content: text})
}

// AddAIMessage appends an assistant turn.
func (s *FileStore) AddAIMessage(ctx context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendToFile(s.getFilePath(sessionID), llms.AIChatMessage{Content: text})
}

// ClearHistory deletes the session's history file.
func (s *FileStore) ClearHistory(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.getFilePath(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

package entity

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Session is the persisted record of one agent run, one JSON document per
// session under <workspace>/.architect/sessions/.
type Session struct {
	SessionID     string            `json:"session_id"`
	Task          string            `json:"task"`
	Agent         string            `json:"agent"`
	Model         string            `json:"model"`
	Status        RunStatus         `json:"status"`
	StepsCount    int               `json:"steps_count"`
	Messages      []ConversationMessage `json:"messages"`
	FilesModified []string          `json:"files_modified"`
	TotalCost     float64           `json:"total_cost"`
	StartedAt     time.Time         `json:"started_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	StopReason    StopReason        `json:"stop_reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ConversationMessage is a role-tagged entry in the LLM conversation as
// persisted on disk. Roles: system, user, assistant, tool. Ordering within
// the sequence is significant and preserved. assistant entries may carry
// ToolCalls; tool entries reference the ToolCall id that produced them via
// ToolCallID.
type ConversationMessage struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCallInfo         `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Name       string                 `json:"name,omitempty"`
}

// messageTruncateAbove is the cap applied once a session grows past it; only the
// most recent messageTruncateKeep messages are kept on disk (spec.md: "truncated to last 30 if >50").
const (
	messageTruncateAbove = 50
	messageTruncateKeep  = 30
)

// NewSessionID stamps a new session id as YYYYMMDD-HHMMSS-<6 hex chars>.
func NewSessionID(now time.Time) string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return now.Format("20060102-150405") + "-" + hex.EncodeToString(buf)
}

// TruncateMessages caps stored messages, keeping only the most recent
// messageTruncateKeep entries once the session exceeds messageTruncateAbove.
func (s *Session) TruncateMessages() {
	if len(s.Messages) > messageTruncateAbove {
		s.Messages = s.Messages[len(s.Messages)-messageTruncateKeep:]
	}
}

// AddFileModified records a touched path, deduplicated (files_modified is a set).
func (s *Session) AddFileModified(path string) {
	for _, p := range s.FilesModified {
		if p == path {
			return
		}
	}
	s.FilesModified = append(s.FilesModified, path)
}

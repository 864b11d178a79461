// Package engine implements the conversation session engine for Atelier.
//
// The engine ingests the backend's asynchronous lifecycle event stream
// (run started, text deltas, tool calls, tool results, thoughts, compaction
// notices, terminal completions) for any number of concurrently-running
// conversations and folds it into consistent, renderable per-conversation
// state. Once a run is terminal the engine reconciles with the authoritative
// backend snapshot.
//
// All mutation is serialized through a single mutex owned by the Engine;
// the container types in this package (ConversationCache, SpaceDirectory,
// SessionTable) are not safe for concurrent use on their own.
package engine

import (
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImageAttachment is an image attached to a user message.
type ImageAttachment struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data,omitempty"` // base64-encoded
}

// Message is a single entry in a conversation.
// Messages are append-only; only the last assistant message is ever
// logically replaced, by reconciliation.
type Message struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Images    []ImageAttachment `json:"images,omitempty"`
	IsPlan    bool              `json:"is_plan,omitempty"`
}

// Conversation is a fully-loaded conversation with its ordered message list.
// Owned by the ConversationCache; immutable except through explicit update.
type Conversation struct {
	ID        string    `json:"id"`
	SpaceID   string    `json:"space_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// LastMessage returns the last message of the conversation, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// ConversationMeta is a lightweight projection of a conversation held by the
// SpaceDirectory. Many metas may exist without their full Conversation being
// cached.
type ConversationMeta struct {
	ID           string    `json:"id"`
	SpaceID      string    `json:"space_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview,omitempty"`
}

// ThoughtType classifies a timeline entry in the agent's process trace.
type ThoughtType string

const (
	ThoughtToolUse    ThoughtType = "tool_use"
	ThoughtToolResult ThoughtType = "tool_result"
	ThoughtThinking   ThoughtType = "thinking"
	ThoughtError      ThoughtType = "error"
)

// ToolStatus is the execution status of a tool call.
type ToolStatus string

const (
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusError     ToolStatus = "error"
	ToolStatusCancelled ToolStatus = "cancelled"
)

// TaskToolName is the tool name used to spawn sub-agents. Tool-use thoughts
// with this name and no matching result are reported as active agents.
const TaskToolName = "Task"

// AskUserQuestionToolName is the reserved tool that pauses the run until the
// user supplies an answer. Matched case-insensitively.
const AskUserQuestionToolName = "AskUserQuestion"

// Thought is a timeline entry representing intermediate agent activity.
type Thought struct {
	Type      ThoughtType `json:"type"`
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"` // tool name for tool_use entries
	Content   string      `json:"content,omitempty"`
	Status    ToolStatus  `json:"status,omitempty"`
	IsError   bool        `json:"is_error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// dedupKey returns the composite key used to deduplicate thoughts across
// recovery replay.
func (t Thought) dedupKey() string {
	return string(t.Type) + ":" + t.ID
}

// ToolApproval describes a tool call waiting for user approval.
type ToolApproval struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Input      string `json:"input,omitempty"`
}

// PendingQuestion describes an ask-user-question tool call waiting for an answer.
type PendingQuestion struct {
	ToolCallID string `json:"tool_call_id"`
	Question   string `json:"question,omitempty"`
}

// FailedQuestion describes an ask-user-question that ended in error.
type FailedQuestion struct {
	ToolCallID string `json:"tool_call_id"`
	Error      string `json:"error"`
}

// CompactInfo is a one-shot notice that the backend compacted the
// conversation context. Cleared on the next reconciliation.
type CompactInfo struct {
	Trigger   string `json:"trigger"`
	PreTokens int    `json:"pre_tokens"`
}

// Lifecycle is the macro state of a conversation's current run.
type Lifecycle string

const (
	LifecycleIdle       Lifecycle = "idle"
	LifecycleGenerating Lifecycle = "generating"
	LifecycleStopped    Lifecycle = "stopped"
	LifecycleCompleted  Lifecycle = "completed"
	LifecycleFailed     Lifecycle = "failed"
)

// FileChange is a single pending file modification within a change set.
type FileChange struct {
	Path   string `json:"path"`
	Diff   string `json:"diff,omitempty"`
	Status string `json:"status,omitempty"` // "pending", "accepted", "reverted"
}

// ChangeSet is a backend-owned list of pending file changes for a
// conversation. The client only ever holds backend-supplied snapshots.
type ChangeSet struct {
	ID             string       `json:"id"`
	SpaceID        string       `json:"space_id"`
	ConversationID string       `json:"conversation_id"`
	Files          []FileChange `json:"files"`
}

// RemoteSessionState is the backend's snapshot of a live run, returned by
// GetSessionState. Used to seed a local SessionState when a conversation is
// loaded while a background run is in flight.
type RemoteSessionState struct {
	Active           bool      `json:"active"`
	RunID            string    `json:"run_id,omitempty"`
	StreamingContent string    `json:"streaming_content,omitempty"`
	Thoughts         []Thought `json:"thoughts,omitempty"`
}

// SemanticError is a definitive failure reported by the backend
// (success=false in the response envelope), as opposed to a transport error.
// Semantic failures are folded into terminal session state; transport errors
// are surfaced to the caller with no state change.
type SemanticError struct {
	Reason string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("backend rejected request: %s", e.Reason)
}

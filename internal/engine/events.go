package engine

import (
	"strings"
	"time"
)

// Event is an inbound lifecycle event pushed by the backend. Every event
// carries a space identity and a conversation identity; most carry a run
// identity once a run is in flight.
type Event interface {
	SpaceID() string
	ConversationID() string
	RunID() string
}

// EventBase carries the identities common to all lifecycle events.
type EventBase struct {
	Space        string `json:"space_id"`
	Conversation string `json:"conversation_id"`
	Run          string `json:"run_id,omitempty"`
}

func (e EventBase) SpaceID() string        { return e.Space }
func (e EventBase) ConversationID() string { return e.Conversation }
func (e EventBase) RunID() string          { return e.Run }

// RunStartedEvent announces that a new run was accepted for a conversation.
type RunStartedEvent struct {
	EventBase
}

// MessageEvent carries assistant text: either an incremental delta or a
// whole-content replacement. NewTextBlock signals the start of a new text
// segment.
type MessageEvent struct {
	EventBase
	Content      string `json:"content"`
	Delta        bool   `json:"delta,omitempty"`
	NewTextBlock bool   `json:"new_text_block,omitempty"`
}

// ToolCallEvent announces a tool invocation.
type ToolCallEvent struct {
	EventBase
	ToolCallID       string `json:"tool_call_id"`
	Name             string `json:"name"`
	Status           string `json:"status,omitempty"`
	Input            string `json:"input,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty"`
}

// ToolResultEvent carries the result of a tool invocation. It may arrive
// before its matching ToolCallEvent due to transport reordering.
type ToolResultEvent struct {
	EventBase
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ThoughtEvent carries a generic process-trace entry.
type ThoughtEvent struct {
	EventBase
	Thought Thought `json:"thought"`
}

// CompactEvent notifies that the backend compacted the conversation context.
type CompactEvent struct {
	EventBase
	Trigger   string `json:"trigger"`
	PreTokens int    `json:"pre_tokens"`
}

// ErrorEvent reports a fatal run error. Terminal for the run.
type ErrorEvent struct {
	EventBase
	Message string `json:"message"`
}

// Completion reasons reported by the backend.
const (
	CompleteReasonCompleted = "completed"
	CompleteReasonStopped   = "stopped"
	CompleteReasonNoText    = "no_text"
)

// CompleteEvent signals that a run finished. FinalContent, if supplied, is
// used as a fallback assistant message when the authoritative reload cannot
// be obtained.
type CompleteEvent struct {
	EventBase
	Reason       string `json:"reason"`
	FinalContent string `json:"final_content,omitempty"`
}

// isAskUserQuestionTool reports whether name is the reserved
// ask-user-question tool, matched case-insensitively.
func isAskUserQuestionTool(name string) bool {
	return strings.EqualFold(name, AskUserQuestionToolName)
}

// acceptsEvent reports whether an event tagged with runID should be folded
// into the session. A run_start always adopts the newest run ID seen; every
// other event is dropped when it carries a run ID different from the
// accepted one (stale run), or when the accepted run is no longer
// generating (e.g., after stopGeneration).
func (s *SessionState) acceptsEvent(runID string) bool {
	if runID != "" && s.ActiveRunID != "" && runID != s.ActiveRunID {
		return false
	}
	// Events for the accepted run are ignored once the run left the
	// generating state; completion is folded before the lifecycle flips, so
	// this only rejects genuine stragglers.
	if runID != "" && runID == s.ActiveRunID &&
		(s.Lifecycle == LifecycleStopped || s.Lifecycle == LifecycleFailed || s.Lifecycle == LifecycleCompleted) {
		return false
	}
	return true
}

// foldRunStarted adopts a new run. Thoughts and tool state accumulated so
// far remain: a new run continues appending to the same per-conversation
// session.
func (s *SessionState) foldRunStarted(ev RunStartedEvent) {
	s.ActiveRunID = ev.Run
	s.Lifecycle = LifecycleGenerating
	s.IsGenerating = true
	s.TerminalReason = ""
	s.Error = ""
}

// foldMessage appends or replaces streaming content.
func (s *SessionState) foldMessage(ev MessageEvent) {
	if ev.NewTextBlock {
		s.TextBlockVersion++
		s.StreamingContent = ""
	}
	if ev.Delta {
		s.StreamingContent += ev.Content
	} else {
		s.StreamingContent = ev.Content
	}
	s.IsStreaming = true
	s.IsThinking = false
}

// foldToolCall records a tool invocation. If a result for the same tool ID
// already arrived (transport reordering), the call resolves immediately to
// the terminal status instead of opening a pending or approval state.
func (s *SessionState) foldToolCall(ev ToolCallEvent) {
	if orphan, ok := s.orphanResults[ev.ToolCallID]; ok {
		delete(s.orphanResults, ev.ToolCallID)

		status := ToolStatusCompleted
		if orphan.IsError {
			status = ToolStatusError
		}
		s.appendThought(Thought{
			Type:      ThoughtToolUse,
			ID:        ev.ToolCallID,
			Name:      ev.Name,
			Content:   ev.Input,
			Status:    status,
			Timestamp: time.Now(),
		})
		s.appendThought(Thought{
			Type:      ThoughtToolResult,
			ID:        orphan.ToolCallID,
			Content:   orphan.Result,
			Status:    status,
			IsError:   orphan.IsError,
			Timestamp: time.Now(),
		})
		s.recomputeDerived()
		return
	}

	status := ToolStatus(ev.Status)
	if status == "" {
		status = ToolStatusRunning
	}
	s.appendThought(Thought{
		Type:      ThoughtToolUse,
		ID:        ev.ToolCallID,
		Name:      ev.Name,
		Content:   ev.Input,
		Status:    status,
		Timestamp: time.Now(),
	})

	if ev.RequiresApproval {
		s.PendingToolApproval = &ToolApproval{
			ToolCallID: ev.ToolCallID,
			Name:       ev.Name,
			Input:      ev.Input,
		}
	}
	if isAskUserQuestionTool(ev.Name) {
		s.PendingAskUserQuestion = &PendingQuestion{
			ToolCallID: ev.ToolCallID,
			Question:   ev.Input,
		}
		s.FailedAskUserQuestion = nil
	}

	s.recomputeDerived()
}

// foldToolResult resolves a tool invocation. Returns true when a deferred
// terminal event became eligible for processing (the pending question this
// result belonged to was resolved successfully).
func (s *SessionState) foldToolResult(ev ToolResultEvent) bool {
	call := s.findThought(ThoughtToolUse, ev.ToolCallID)
	if call == nil {
		// Result arrived before its call: park it so the delayed call can
		// resolve immediately.
		s.orphanResults[ev.ToolCallID] = ev
		return false
	}

	if ev.IsError {
		call.Status = ToolStatusError
	} else {
		call.Status = ToolStatusCompleted
	}

	status := ToolStatusCompleted
	if ev.IsError {
		status = ToolStatusError
	}
	s.appendThought(Thought{
		Type:      ThoughtToolResult,
		ID:        ev.ToolCallID,
		Content:   ev.Result,
		Status:    status,
		IsError:   ev.IsError,
		Timestamp: time.Now(),
	})

	if s.PendingToolApproval != nil && s.PendingToolApproval.ToolCallID == ev.ToolCallID {
		s.PendingToolApproval = nil
	}

	questionResolved := false
	if s.PendingAskUserQuestion != nil && s.PendingAskUserQuestion.ToolCallID == ev.ToolCallID {
		if ev.IsError {
			s.FailedAskUserQuestion = &FailedQuestion{
				ToolCallID: ev.ToolCallID,
				Error:      ev.Result,
			}
			s.PendingAskUserQuestion = nil
		} else {
			s.PendingAskUserQuestion = nil
			s.FailedAskUserQuestion = nil
			questionResolved = true
		}
	}

	s.recomputeDerived()

	return questionResolved && s.deferredComplete != nil
}

// foldThought appends a generic thought with dedup and recomputes derived
// state.
func (s *SessionState) foldThought(ev ThoughtEvent) {
	t := ev.Thought
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if s.appendThought(t) {
		if t.Type == ThoughtThinking {
			s.IsThinking = true
		}
		s.recomputeDerived()
	}
}

// foldCompact latches a one-shot compaction notice.
func (s *SessionState) foldCompact(ev CompactEvent) {
	s.CompactInfo = &CompactInfo{
		Trigger:   ev.Trigger,
		PreTokens: ev.PreTokens,
	}
}

// foldError terminates the run with an error.
func (s *SessionState) foldError(ev ErrorEvent) {
	s.appendThought(Thought{
		Type:      ThoughtError,
		ID:        ev.Run,
		Content:   ev.Message,
		IsError:   true,
		Timestamp: time.Now(),
	})
	s.recomputeDerived()

	s.IsGenerating = false
	s.IsStreaming = false
	s.IsThinking = false
	s.PendingAskUserQuestion = nil
	s.FailedAskUserQuestion = nil
	s.Error = ev.Message
	s.Lifecycle = LifecycleFailed
	s.TerminalReason = "error"
}

// foldCompletePhase1 performs the synchronous half of completion: streaming
// and thinking stop, but isGenerating stays up and streamingContent stays
// visible so the UI does not flash before authoritative data is ready.
//
// Returns true when the engine should proceed to reconciliation. When an
// ask-user-question is pending, the terminal event is stashed instead and
// completion processing stops until the question resolves.
func (s *SessionState) foldCompletePhase1(ev CompleteEvent) bool {
	if s.PendingAskUserQuestion != nil {
		deferred := ev
		s.deferredComplete = &deferred
		return false
	}

	s.IsStreaming = false
	s.IsThinking = false
	s.Lifecycle = LifecycleCompleted
	s.TerminalReason = ev.Reason

	if ev.Reason == CompleteReasonNoText {
		// Nothing was generated; no authoritative reload needed.
		s.clearTransient()
		return false
	}
	return true
}

// foldStop applies an external stopGeneration request: flags flip, question
// slots clear, and tool calls still running are marked cancelled rather
// than left running forever.
func (s *SessionState) foldStop() {
	s.IsGenerating = false
	s.IsStreaming = false
	s.IsThinking = false
	s.PendingAskUserQuestion = nil
	s.FailedAskUserQuestion = nil
	s.PendingToolApproval = nil
	s.Lifecycle = LifecycleStopped
	s.TerminalReason = CompleteReasonStopped

	for i := range s.Thoughts {
		if s.Thoughts[i].Type == ThoughtToolUse && s.Thoughts[i].Status == ToolStatusRunning {
			s.Thoughts[i].Status = ToolStatusCancelled
		}
	}
	s.recomputeDerived()
}

// clearTransient clears the per-run fields that reconciliation (or a
// completion that needs no reconciliation) retires, atomically with any
// cache update the caller performs.
func (s *SessionState) clearTransient() {
	s.IsGenerating = false
	s.IsStreaming = false
	s.IsThinking = false
	s.StreamingContent = ""
	s.PendingAskUserQuestion = nil
	s.FailedAskUserQuestion = nil
	s.PendingToolApproval = nil
	s.CompactInfo = nil
	s.deferredComplete = nil
}

package engine

// SessionState is the mutable runtime projection of one conversation's live
// event stream. A SessionState exists in the table if and only if the
// conversation has ever been sent a message or was loaded with an active
// backend run; it is never removed except by explicit conversation deletion
// or a global reset.
type SessionState struct {
	ConversationID string `json:"conversation_id"`
	SpaceID        string `json:"space_id"`

	// Lifecycle is the macro state of the current run.
	Lifecycle Lifecycle `json:"lifecycle"`
	// TerminalReason records why the last run ended (completed, stopped,
	// no_text, error, ...).
	TerminalReason string `json:"terminal_reason,omitempty"`

	IsGenerating bool `json:"is_generating"`
	IsStreaming  bool `json:"is_streaming"`
	IsThinking   bool `json:"is_thinking"`

	// StreamingContent accumulates in-progress assistant text. Supports both
	// whole-content replacement and incremental delta append.
	StreamingContent string `json:"streaming_content"`
	// TextBlockVersion is bumped whenever the backend signals the start of a
	// new text segment; renderers use it to reset incremental state.
	TextBlockVersion int `json:"text_block_version"`

	// Thoughts is the ordered process trace, deduplicated by (type, id) so
	// recovery replay cannot double-insert.
	Thoughts []Thought `json:"thoughts"`

	// ParallelGroups groups tool-call IDs that were dispatched concurrently.
	// Recomputed from the full thought sequence on every append.
	ParallelGroups [][]string `json:"parallel_groups,omitempty"`

	// ActiveAgentIDs lists Task tool-call IDs with no matching result yet.
	ActiveAgentIDs []string `json:"active_agent_ids,omitempty"`

	PendingToolApproval    *ToolApproval    `json:"pending_tool_approval,omitempty"`
	PendingAskUserQuestion *PendingQuestion `json:"pending_ask_user_question,omitempty"`
	FailedAskUserQuestion  *FailedQuestion  `json:"failed_ask_user_question,omitempty"`

	// CompactInfo is a transient one-shot compaction notice, cleared on the
	// next reconciliation.
	CompactInfo *CompactInfo `json:"compact_info,omitempty"`

	// Error is the last fatal error message for this session, if any.
	Error string `json:"error,omitempty"`

	// ActiveRunID identifies the currently-accepted run. Events tagged with a
	// different run ID are stale and dropped.
	ActiveRunID string `json:"active_run_id,omitempty"`

	// orphanResults holds tool results that arrived before their tool_call
	// (transport reordering), keyed by tool-call ID. Consulted whenever a
	// tool_call event is folded in.
	orphanResults map[string]ToolResultEvent

	// deferredComplete stashes a terminal event that arrived while an
	// ask-user-question was pending. Replayed when the question resolves.
	deferredComplete *CompleteEvent

	// seenThoughts indexes thought dedup keys for O(1) duplicate detection.
	seenThoughts map[string]struct{}
}

// newSessionState creates a session for a conversation.
func newSessionState(spaceID, conversationID string) *SessionState {
	return &SessionState{
		ConversationID: conversationID,
		SpaceID:        spaceID,
		Lifecycle:      LifecycleIdle,
		orphanResults:  make(map[string]ToolResultEvent),
		seenThoughts:   make(map[string]struct{}),
	}
}

// appendThought appends a thought unless its (type, id) key was already seen.
// Returns true if the thought was appended.
func (s *SessionState) appendThought(t Thought) bool {
	key := t.dedupKey()
	if _, seen := s.seenThoughts[key]; seen {
		return false
	}
	s.seenThoughts[key] = struct{}{}
	s.Thoughts = append(s.Thoughts, t)
	return true
}

// findThought returns a pointer to the first thought with the given type and
// ID, or nil.
func (s *SessionState) findThought(typ ThoughtType, id string) *Thought {
	for i := range s.Thoughts {
		if s.Thoughts[i].Type == typ && s.Thoughts[i].ID == id {
			return &s.Thoughts[i]
		}
	}
	return nil
}

// recomputeDerived recomputes parallel groups and active agent IDs from the
// full thought sequence. Called after every thought mutation so the derived
// views stay consistent after dedup and replay.
func (s *SessionState) recomputeDerived() {
	s.ParallelGroups = DeriveParallelGroups(s.Thoughts)
	s.ActiveAgentIDs = ActiveAgentIDs(s.Thoughts)
}

// snapshot returns a copy of the session safe to hand to readers.
// Slices and nested pointers are copied; the unexported bookkeeping maps are
// not carried over.
func (s *SessionState) snapshot() SessionState {
	out := *s
	out.Thoughts = append([]Thought(nil), s.Thoughts...)
	out.ActiveAgentIDs = append([]string(nil), s.ActiveAgentIDs...)
	out.ParallelGroups = make([][]string, len(s.ParallelGroups))
	for i, g := range s.ParallelGroups {
		out.ParallelGroups[i] = append([]string(nil), g...)
	}
	if s.PendingToolApproval != nil {
		v := *s.PendingToolApproval
		out.PendingToolApproval = &v
	}
	if s.PendingAskUserQuestion != nil {
		v := *s.PendingAskUserQuestion
		out.PendingAskUserQuestion = &v
	}
	if s.FailedAskUserQuestion != nil {
		v := *s.FailedAskUserQuestion
		out.FailedAskUserQuestion = &v
	}
	if s.CompactInfo != nil {
		v := *s.CompactInfo
		out.CompactInfo = &v
	}
	out.orphanResults = nil
	out.deferredComplete = nil
	out.seenThoughts = nil
	return out
}

// SessionTable maps conversation IDs to their runtime sessions. Sessions
// persist independently of which conversation is focused, so background runs
// keep progressing.
//
// Not safe for concurrent use; the Engine serializes access.
type SessionTable struct {
	sessions map[string]*SessionState
}

// NewSessionTable creates an empty session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*SessionState)}
}

// Get returns the session for a conversation, or nil if none exists.
func (t *SessionTable) Get(conversationID string) *SessionState {
	return t.sessions[conversationID]
}

// GetOrCreate returns the session for a conversation, creating it if needed.
func (t *SessionTable) GetOrCreate(spaceID, conversationID string) *SessionState {
	if s, ok := t.sessions[conversationID]; ok {
		return s
	}
	s := newSessionState(spaceID, conversationID)
	t.sessions[conversationID] = s
	return s
}

// Delete removes a conversation's session. Only conversation deletion and
// global reset may call this.
func (t *SessionTable) Delete(conversationID string) {
	delete(t.sessions, conversationID)
}

// Len returns the number of sessions.
func (t *SessionTable) Len() int {
	return len(t.sessions)
}

// Clear removes all sessions.
func (t *SessionTable) Clear() {
	t.sessions = make(map[string]*SessionState)
}

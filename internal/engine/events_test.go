package engine

import (
	"context"
	"testing"
)

func TestHandleEvent_UnknownSessionDropped(t *testing.T) {
	e := newTestEngine(&fakeBackend{})

	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r1"), Content: "hi", Delta: true})

	if e.Session("c1") != nil {
		t.Error("an event must not create a session")
	}
}

func TestHandleEvent_StreamingDeltas(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")

	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r1"), Content: "Hel", Delta: true})
	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r1"), Content: "lo", Delta: true})

	s := e.Session("c1")
	if s.StreamingContent != "Hello" {
		t.Errorf("StreamingContent = %q, want Hello", s.StreamingContent)
	}
	if !s.IsStreaming {
		t.Error("IsStreaming should be true")
	}

	// Whole-content replacement overwrites the accumulator.
	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r1"), Content: "Goodbye"})
	if s := e.Session("c1"); s.StreamingContent != "Goodbye" {
		t.Errorf("StreamingContent = %q, want Goodbye", s.StreamingContent)
	}
}

func TestHandleEvent_NewTextBlockBumpsVersion(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")

	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r1"), Content: "first", Delta: true})
	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r1"), Content: "second", Delta: true, NewTextBlock: true})

	s := e.Session("c1")
	if s.TextBlockVersion != 1 {
		t.Errorf("TextBlockVersion = %d, want 1", s.TextBlockVersion)
	}
	if s.StreamingContent != "second" {
		t.Errorf("StreamingContent = %q, want second (reset on new block)", s.StreamingContent)
	}
}

func TestHandleEvent_StaleRunDropped(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r2")

	// Event from the superseded run r1 must be ignored.
	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r1"), Content: "stale", Delta: true})

	if s := e.Session("c1"); s.StreamingContent != "" {
		t.Errorf("stale-run content leaked: %q", s.StreamingContent)
	}
}

func TestHandleEvent_RunStartSupersedes(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")
	e.HandleEvent(ThoughtEvent{EventBase: base("s1", "c1", "r1"),
		Thought: Thought{Type: ThoughtThinking, ID: "th1", Content: "pondering"}})

	// A new run is adopted even over an in-flight one; accumulated thoughts
	// survive, r1 stragglers do not.
	e.HandleEvent(RunStartedEvent{EventBase: base("s1", "c1", "r2")})
	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r1"), Content: "late", Delta: true})
	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r2"), Content: "fresh", Delta: true})

	s := e.Session("c1")
	if s.ActiveRunID != "r2" {
		t.Errorf("ActiveRunID = %q, want r2", s.ActiveRunID)
	}
	if s.StreamingContent != "fresh" {
		t.Errorf("StreamingContent = %q, want fresh", s.StreamingContent)
	}
	if len(s.Thoughts) != 1 {
		t.Errorf("thoughts should survive a run supersede, got %d", len(s.Thoughts))
	}
}

func TestHandleEvent_ThoughtDedup(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")

	th := ThoughtEvent{EventBase: base("s1", "c1", "r1"),
		Thought: Thought{Type: ThoughtThinking, ID: "th1", Content: "once"}}
	e.HandleEvent(th)
	e.HandleEvent(th) // recovery replay duplicates

	if s := e.Session("c1"); len(s.Thoughts) != 1 {
		t.Errorf("duplicate thought was appended: %d thoughts", len(s.Thoughts))
	}
}

func TestHandleEvent_ToolCallAndResult(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")

	e.HandleEvent(ToolCallEvent{EventBase: base("s1", "c1", "r1"),
		ToolCallID: "t1", Name: "Bash", Input: "ls"})

	s := e.Session("c1")
	if call := findTestThought(s, ThoughtToolUse, "t1"); call == nil || call.Status != ToolStatusRunning {
		t.Fatal("tool call should be recorded as running")
	}

	e.HandleEvent(ToolResultEvent{EventBase: base("s1", "c1", "r1"),
		ToolCallID: "t1", Result: "ok"})

	s = e.Session("c1")
	if call := findTestThought(s, ThoughtToolUse, "t1"); call.Status != ToolStatusCompleted {
		t.Errorf("tool status = %q, want completed", call.Status)
	}
	if res := findTestThought(s, ThoughtToolResult, "t1"); res == nil {
		t.Error("tool result thought missing")
	}
}

func TestHandleEvent_OrphanResultConverges(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")

	// Result arrives before its call.
	e.HandleEvent(ToolResultEvent{EventBase: base("s1", "c1", "r1"),
		ToolCallID: "t1", Result: "early"})

	if s := e.Session("c1"); len(s.Thoughts) != 0 {
		t.Fatal("orphan result must not appear in the timeline yet")
	}

	e.HandleEvent(ToolCallEvent{EventBase: base("s1", "c1", "r1"),
		ToolCallID: "t1", Name: "Bash", Input: "ls", RequiresApproval: true})

	s := e.Session("c1")
	if call := findTestThought(s, ThoughtToolUse, "t1"); call == nil || call.Status != ToolStatusCompleted {
		t.Error("delayed call should resolve immediately to completed")
	}
	if res := findTestThought(s, ThoughtToolResult, "t1"); res == nil || res.Content != "early" {
		t.Error("parked result should be in the timeline")
	}
	// An already-resolved call must not open an approval.
	if s.PendingToolApproval != nil {
		t.Error("resolved call must not latch a pending approval")
	}
}

func TestHandleEvent_OrphanErrorResult(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")

	e.HandleEvent(ToolResultEvent{EventBase: base("s1", "c1", "r1"),
		ToolCallID: "t1", Result: "boom", IsError: true})
	e.HandleEvent(ToolCallEvent{EventBase: base("s1", "c1", "r1"),
		ToolCallID: "t1", Name: "Bash"})

	s := e.Session("c1")
	if call := findTestThought(s, ThoughtToolUse, "t1"); call.Status != ToolStatusError {
		t.Errorf("tool status = %q, want error", call.Status)
	}
}

func TestHandleEvent_ApprovalLatchedAndClearedByResult(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")

	e.HandleEvent(ToolCallEvent{EventBase: base("s1", "c1", "r1"),
		ToolCallID: "t1", Name: "Write", RequiresApproval: true})

	if s := e.Session("c1"); s.PendingToolApproval == nil || s.PendingToolApproval.ToolCallID != "t1" {
		t.Fatal("approval should be pending")
	}

	e.HandleEvent(ToolResultEvent{EventBase: base("s1", "c1", "r1"), ToolCallID: "t1"})

	if s := e.Session("c1"); s.PendingToolApproval != nil {
		t.Error("approval should clear once the tool resolved")
	}
}

func TestHandleEvent_ErrorTerminatesRun(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")
	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r1"), Content: "partial", Delta: true})

	e.HandleEvent(ErrorEvent{EventBase: base("s1", "c1", "r1"), Message: "model overloaded"})

	s := e.Session("c1")
	if s.Lifecycle != LifecycleFailed {
		t.Errorf("Lifecycle = %q, want failed", s.Lifecycle)
	}
	if s.Error != "model overloaded" {
		t.Errorf("Error = %q", s.Error)
	}
	if s.IsGenerating || s.IsStreaming {
		t.Error("generating/streaming flags should be down")
	}

	// Same-run stragglers after the terminal error are ignored.
	e.HandleEvent(MessageEvent{EventBase: base("s1", "c1", "r1"), Content: "late", Delta: true})
	if got := e.Session("c1").StreamingContent; got != "partial" {
		t.Errorf("post-terminal content leaked: %q", got)
	}
}

func TestHandleEvent_StopCancelsRunningTools(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")
	e.HandleEvent(ToolCallEvent{EventBase: base("s1", "c1", "r1"), ToolCallID: "t1", Name: "Bash"})
	e.HandleEvent(ToolCallEvent{EventBase: base("s1", "c1", "r1"), ToolCallID: "t2", Name: "Bash"})
	e.HandleEvent(ToolResultEvent{EventBase: base("s1", "c1", "r1"), ToolCallID: "t2"})

	if err := e.StopGeneration(context.Background(), "c1"); err != nil {
		t.Fatalf("StopGeneration: %v", err)
	}

	s := e.Session("c1")
	if s.Lifecycle != LifecycleStopped {
		t.Errorf("Lifecycle = %q, want stopped", s.Lifecycle)
	}
	if got := findTestThought(s, ThoughtToolUse, "t1").Status; got != ToolStatusCancelled {
		t.Errorf("t1 status = %q, want cancelled", got)
	}
	if got := findTestThought(s, ThoughtToolUse, "t2").Status; got != ToolStatusCompleted {
		t.Errorf("t2 status = %q, want completed (already resolved)", got)
	}

	// A thought tagged with the now-stopped run is ignored.
	e.HandleEvent(ThoughtEvent{EventBase: base("s1", "c1", "r1"),
		Thought: Thought{Type: ThoughtThinking, ID: "late"}})
	s = e.Session("c1")
	if s.Lifecycle != LifecycleStopped {
		t.Errorf("Lifecycle = %q, want stopped", s.Lifecycle)
	}
	if findTestThought(s, ThoughtThinking, "late") != nil {
		t.Error("post-stop thought should not be appended")
	}
}

func TestFoldCompletePhase1_KeepsContentVisible(t *testing.T) {
	// Phase one closes the stream but keeps the session visually generating
	// until the authoritative reload lands, so the UI never flashes empty.
	s := newSessionState("s1", "c1")
	s.ActiveRunID = "r1"
	s.Lifecycle = LifecycleGenerating
	s.IsGenerating = true
	s.IsStreaming = true
	s.StreamingContent = "almost done"

	if !s.foldCompletePhase1(CompleteEvent{
		EventBase: EventBase{Space: "s1", Conversation: "c1", Run: "r1"},
		Reason:    CompleteReasonCompleted,
	}) {
		t.Fatal("phase one should request reconciliation")
	}

	if s.IsStreaming {
		t.Error("streaming should close in phase one")
	}
	if !s.IsGenerating {
		t.Error("generating must stay up until reconciliation")
	}
	if s.StreamingContent != "almost done" {
		t.Error("streamed content must stay visible until reconciliation")
	}
	if s.Lifecycle != LifecycleCompleted || s.TerminalReason != CompleteReasonCompleted {
		t.Errorf("lifecycle = %q/%q", s.Lifecycle, s.TerminalReason)
	}
}

func TestHandleEvent_CompactNotice(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	startRun(e, "s1", "c1", "r1")

	e.HandleEvent(CompactEvent{EventBase: base("s1", "c1", "r1"), Trigger: "auto", PreTokens: 150000})

	s := e.Session("c1")
	if s.CompactInfo == nil || s.CompactInfo.Trigger != "auto" || s.CompactInfo.PreTokens != 150000 {
		t.Errorf("CompactInfo = %+v", s.CompactInfo)
	}
}

// findTestThought searches a session snapshot for a thought.
func findTestThought(s *SessionState, typ ThoughtType, id string) *Thought {
	for i := range s.Thoughts {
		if s.Thoughts[i].Type == typ && s.Thoughts[i].ID == id {
			return &s.Thoughts[i]
		}
	}
	return nil
}

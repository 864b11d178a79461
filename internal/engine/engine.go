package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoCurrentConversation is returned when a globally-focused action has no
// current conversation to target.
var ErrNoCurrentConversation = errors.New("no current conversation")

// ErrNoPendingQuestion is returned when answering a question that is not
// pending.
var ErrNoPendingQuestion = errors.New("no pending question for conversation")

// ErrNoPendingApproval is returned when approving or rejecting a tool with
// no approval pending.
var ErrNoPendingApproval = errors.New("no pending tool approval for conversation")

// SendMessageRequest is the payload for Backend.SendMessage.
type SendMessageRequest struct {
	SpaceID        string            `json:"space_id"`
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	Content        string            `json:"content"`
	Images         []ImageAttachment `json:"images,omitempty"`
}

// Backend is the request/response surface of the backend process. The
// concrete implementation lives in internal/backend; tests supply fakes.
//
// Methods return *SemanticError when the backend replies success=false, and
// ordinary errors for transport failures.
type Backend interface {
	SendMessage(ctx context.Context, req SendMessageRequest) error
	StopGeneration(ctx context.Context, conversationID string) error
	ApproveTool(ctx context.Context, conversationID, toolCallID string) error
	RejectTool(ctx context.Context, conversationID, toolCallID string) error
	AnswerQuestion(ctx context.Context, conversationID, toolCallID, answer string) error

	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	ListConversations(ctx context.Context, spaceID string) ([]ConversationMeta, error)
	CreateConversation(ctx context.Context, spaceID, title string) (*Conversation, error)
	UpdateConversation(ctx context.Context, conversationID, title string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	GetSessionState(ctx context.Context, conversationID string) (*RemoteSessionState, error)

	ListChangeSets(ctx context.Context, conversationID string) ([]ChangeSet, error)
	AcceptChangeSet(ctx context.Context, conversationID, changeSetID, path string) (*ChangeSet, error)
	RollbackChangeSet(ctx context.Context, conversationID, changeSetID, path string) (*ChangeSet, error)
}

// PlanOpenFunc is called when reconciliation determines that the focused
// conversation ended with an assistant plan message and a plan view should
// open.
type PlanOpenFunc func(spaceID, conversationID string)

// Options configures an Engine.
type Options struct {
	// Backend performs all request/response calls. Required.
	Backend Backend
	// CacheCapacity bounds the conversation cache. Defaults to
	// DefaultCacheCapacity.
	CacheCapacity int
	// Logger is the engine logger.
	Logger *slog.Logger
	// OnOpenPlan, if set, is invoked when a reconciled, still-focused
	// conversation ends with an assistant plan message.
	OnOpenPlan PlanOpenFunc
	// SyncCompletion makes the reconciliation half of completion run on the
	// caller's goroutine instead of asynchronously. Used by tests to make
	// completion deterministic.
	SyncCompletion bool
}

// Engine owns all conversation state: the conversation cache, the space
// directory, the session table, and the cached change-set lists. Every
// mutation funnels through the engine's mutex; external components only read
// snapshots. Concurrency is across conversations, not within one: any number
// of conversations may be generating simultaneously, each advancing as its
// own events arrive, independent of which conversation is displayed.
type Engine struct {
	mu sync.Mutex

	backend Backend
	logger  *slog.Logger

	cache      *ConversationCache
	spaces     *SpaceDirectory
	sessions   *SessionTable
	changeSets map[string][]ChangeSet // keyed by conversation ID

	// currentSpaceID is the space the user is looking at.
	currentSpaceID string

	onOpenPlan     PlanOpenFunc
	syncCompletion bool
}

// New creates an engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backend:        opts.Backend,
		logger:         logger,
		cache:          NewConversationCache(opts.CacheCapacity),
		spaces:         NewSpaceDirectory(),
		sessions:       NewSessionTable(),
		changeSets:     make(map[string][]ChangeSet),
		onOpenPlan:     opts.OnOpenPlan,
		syncCompletion: opts.SyncCompletion,
	}
}

// --- Event ingestion ---

// HandleEvent folds one inbound lifecycle event into the session table.
// Stale and superseded events are dropped silently; events for conversations
// with no session are ignored (a session exists only once a conversation has
// been sent a message or loaded with an active run).
func (e *Engine) HandleEvent(ev Event) {
	e.mu.Lock()

	s := e.sessions.Get(ev.ConversationID())
	if s == nil {
		e.mu.Unlock()
		e.logger.Debug("Dropping event for unknown session",
			"conversation_id", ev.ConversationID(),
			"run_id", ev.RunID())
		return
	}

	// run_start always adopts the newest run, even over an in-flight one.
	if start, ok := ev.(RunStartedEvent); ok {
		s.foldRunStarted(start)
		e.mu.Unlock()
		return
	}

	if !s.acceptsEvent(ev.RunID()) {
		e.mu.Unlock()
		e.logger.Debug("Dropping stale event",
			"conversation_id", ev.ConversationID(),
			"run_id", ev.RunID(),
			"active_run_id", s.ActiveRunID)
		return
	}

	var reconcile *CompleteEvent

	switch ev := ev.(type) {
	case MessageEvent:
		s.foldMessage(ev)
	case ToolCallEvent:
		s.foldToolCall(ev)
	case ToolResultEvent:
		if s.foldToolResult(ev) {
			// The pending question this result resolved had deferred the
			// terminal event; finish the run now.
			reconcile = e.finalizeDeferredLocked(s)
		}
	case ThoughtEvent:
		s.foldThought(ev)
	case CompactEvent:
		s.foldCompact(ev)
	case ErrorEvent:
		s.foldError(ev)
	case CompleteEvent:
		if s.foldCompletePhase1(ev) {
			complete := ev
			reconcile = &complete
		}
	default:
		e.logger.Warn("Unknown event type", "conversation_id", ev.ConversationID())
	}

	e.mu.Unlock()

	if reconcile != nil {
		e.startReconcile(*reconcile)
	}
}

// finalizeDeferredLocked replays a stashed terminal event after its blocking
// question resolved. Must be called with the engine lock held; returns the
// event to reconcile, if any.
func (e *Engine) finalizeDeferredLocked(s *SessionState) *CompleteEvent {
	if s.deferredComplete == nil {
		return nil
	}
	deferred := *s.deferredComplete
	s.deferredComplete = nil
	if s.foldCompletePhase1(deferred) {
		return &deferred
	}
	return nil
}

// startReconcile runs phase two of completion, asynchronously unless the
// engine was built with SyncCompletion.
func (e *Engine) startReconcile(ev CompleteEvent) {
	if e.syncCompletion {
		e.reconcile(ev)
		return
	}
	go e.reconcile(ev)
}

// --- Actions ---

// SendMessage sends a message to the current conversation of the current
// space.
func (e *Engine) SendMessage(ctx context.Context, content string, images []ImageAttachment) error {
	e.mu.Lock()
	spaceID := e.currentSpaceID
	convID := e.spaces.Current(spaceID)
	e.mu.Unlock()

	if convID == "" {
		return ErrNoCurrentConversation
	}
	return e.SendMessageTo(ctx, spaceID, convID, content, images)
}

// SendMessageTo sends a message pinned to an explicit conversation. The
// session flags and the cached conversation are updated optimistically
// before the backend call. On failure the optimistic message is rolled back;
// a transport failure additionally restores the session flags so the send
// can be retried, while a semantic rejection ends the run with a definitive
// error the UI can show.
func (e *Engine) SendMessageTo(ctx context.Context, spaceID, conversationID, content string, images []ImageAttachment) error {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
		Images:    images,
	}

	e.mu.Lock()
	s := e.sessions.GetOrCreate(spaceID, conversationID)
	wasGenerating := s.IsGenerating
	s.IsGenerating = true
	s.Lifecycle = LifecycleGenerating
	s.Error = ""

	var prevUpdatedAt time.Time
	if conv := e.cache.Get(conversationID); conv != nil {
		prevUpdatedAt = conv.UpdatedAt
		conv.Messages = append(conv.Messages, msg)
		conv.UpdatedAt = msg.Timestamp
		e.spaces.ReplaceMeta(metaForConversation(conv))
	}
	e.mu.Unlock()

	err := e.backend.SendMessage(ctx, SendMessageRequest{
		SpaceID:        spaceID,
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Content:        content,
		Images:         images,
	})
	if err != nil {
		e.mu.Lock()
		e.rollbackOptimisticMessageLocked(conversationID, msg.ID, prevUpdatedAt)

		var semantic *SemanticError
		if errors.As(err, &semantic) {
			s.IsGenerating = false
			s.IsStreaming = false
			s.Lifecycle = LifecycleFailed
			s.Error = semantic.Reason
		} else if !wasGenerating {
			s.IsGenerating = false
			s.Lifecycle = LifecycleIdle
		}
		e.mu.Unlock()
		return err
	}
	return nil
}

// rollbackOptimisticMessageLocked removes an optimistically-appended message
// the backend never accepted and restores the conversation's meta. Must be
// called with the engine lock held.
func (e *Engine) rollbackOptimisticMessageLocked(conversationID, messageID string, prevUpdatedAt time.Time) {
	conv := e.cache.Get(conversationID)
	if conv == nil {
		return
	}
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].ID == messageID {
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			conv.UpdatedAt = prevUpdatedAt
			e.spaces.ReplaceMeta(metaForConversation(conv))
			return
		}
	}
}

// StopGeneration requests cancellation of a conversation's run. The session
// flags flip immediately; the backend remains the authority for actually
// halting work, so a transport error is still returned after the local fold.
func (e *Engine) StopGeneration(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	if s := e.sessions.Get(conversationID); s != nil {
		s.foldStop()
	}
	e.mu.Unlock()

	return e.backend.StopGeneration(ctx, conversationID)
}

// ApproveTool approves a pending tool call.
func (e *Engine) ApproveTool(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	s := e.sessions.Get(conversationID)
	if s == nil || s.PendingToolApproval == nil {
		e.mu.Unlock()
		return ErrNoPendingApproval
	}
	toolCallID := s.PendingToolApproval.ToolCallID
	e.mu.Unlock()

	if err := e.backend.ApproveTool(ctx, conversationID, toolCallID); err != nil {
		return err
	}

	e.mu.Lock()
	if s.PendingToolApproval != nil && s.PendingToolApproval.ToolCallID == toolCallID {
		s.PendingToolApproval = nil
	}
	e.mu.Unlock()
	return nil
}

// RejectTool rejects a pending tool call. The tool's thought is marked
// cancelled.
func (e *Engine) RejectTool(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	s := e.sessions.Get(conversationID)
	if s == nil || s.PendingToolApproval == nil {
		e.mu.Unlock()
		return ErrNoPendingApproval
	}
	toolCallID := s.PendingToolApproval.ToolCallID
	e.mu.Unlock()

	if err := e.backend.RejectTool(ctx, conversationID, toolCallID); err != nil {
		return err
	}

	e.mu.Lock()
	if s.PendingToolApproval != nil && s.PendingToolApproval.ToolCallID == toolCallID {
		s.PendingToolApproval = nil
	}
	if call := s.findThought(ThoughtToolUse, toolCallID); call != nil {
		call.Status = ToolStatusCancelled
		s.recomputeDerived()
	}
	e.mu.Unlock()
	return nil
}

// --- Space directory operations ---

// SetCurrentSpace switches the focused space.
func (e *Engine) SetCurrentSpace(spaceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentSpaceID = spaceID
}

// CurrentSpace returns the focused space ID.
func (e *Engine) CurrentSpace() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentSpaceID
}

// LoadConversations replaces the metadata list for a space from the backend.
func (e *Engine) LoadConversations(ctx context.Context, spaceID string) ([]ConversationMeta, error) {
	metas, err := e.backend.ListConversations(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.spaces.ReplaceMetas(spaceID, metas)
	result := e.spaces.Metas(spaceID)
	e.mu.Unlock()
	return result, nil
}

// SetCurrentConversation updates only the space's current pointer; it never
// forces the full conversation to load.
func (e *Engine) SetCurrentConversation(spaceID, conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spaces.SetCurrent(spaceID, conversationID)
}

// CreateConversation creates a conversation via the backend, inserts its
// meta at the head of the space's list, and seeds the cache directly so no
// round-trip fetch is needed.
func (e *Engine) CreateConversation(ctx context.Context, spaceID, title string) (*Conversation, error) {
	conv, err := e.backend.CreateConversation(ctx, spaceID, title)
	if err != nil {
		return nil, err
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}

	e.mu.Lock()
	e.cache.Put(conv.ID, conv)
	e.spaces.InsertMeta(metaForConversation(conv))
	e.spaces.SetCurrent(spaceID, conv.ID)
	e.mu.Unlock()

	e.logger.Info("Created conversation",
		"conversation_id", conv.ID,
		"space_id", spaceID)
	return conv, nil
}

// RenameConversation renames a conversation, updating the meta list and, if
// cached, the full conversation consistently.
func (e *Engine) RenameConversation(ctx context.Context, spaceID, conversationID, title string) error {
	if err := e.backend.UpdateConversation(ctx, conversationID, title); err != nil {
		return err
	}

	e.mu.Lock()
	e.spaces.RenameMeta(spaceID, conversationID, title)
	if conv := e.cache.Get(conversationID); conv != nil {
		conv.Title = title
	}
	e.mu.Unlock()
	return nil
}

// DeleteConversation deletes a conversation everywhere: backend, meta list,
// cache, session table, and change-set cache. This is one of the two paths
// allowed to remove a SessionState.
func (e *Engine) DeleteConversation(ctx context.Context, spaceID, conversationID string) error {
	if err := e.backend.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}

	e.mu.Lock()
	e.spaces.RemoveMeta(spaceID, conversationID)
	e.cache.Delete(conversationID)
	e.sessions.Delete(conversationID)
	delete(e.changeSets, conversationID)
	e.mu.Unlock()

	e.logger.Info("Deleted conversation",
		"conversation_id", conversationID,
		"space_id", spaceID)
	return nil
}

// LoadConversation fetches the full conversation into the cache, refreshes
// its change sets, and seeds a session from the backend's live run snapshot
// when one is active.
func (e *Engine) LoadConversation(ctx context.Context, spaceID, conversationID string) (*Conversation, error) {
	conv, err := e.backend.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	changeSets, csErr := e.backend.ListChangeSets(ctx, conversationID)
	remote, rsErr := e.backend.GetSessionState(ctx, conversationID)

	e.mu.Lock()
	e.cache.Put(conv.ID, conv)
	e.spaces.ReplaceMeta(metaForConversation(conv))
	if csErr == nil {
		e.changeSets[conversationID] = changeSets
	}
	if rsErr == nil && remote != nil && remote.Active {
		s := e.sessions.GetOrCreate(spaceID, conversationID)
		s.Lifecycle = LifecycleGenerating
		s.IsGenerating = true
		s.ActiveRunID = remote.RunID
		s.StreamingContent = remote.StreamingContent
		for _, t := range remote.Thoughts {
			s.appendThought(t)
		}
		s.recomputeDerived()
	}
	e.mu.Unlock()

	if csErr != nil {
		e.logger.Warn("Failed to load change sets", "conversation_id", conversationID, "error", csErr)
	}
	if rsErr != nil {
		e.logger.Warn("Failed to load session state", "conversation_id", conversationID, "error", rsErr)
	}
	return conv, nil
}

// Reset clears the session table, the cache, the space directory, and the
// change-set cache. This is the only path besides conversation deletion that
// removes SessionStates.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions.Clear()
	e.cache.Clear()
	e.spaces.Clear()
	e.changeSets = make(map[string][]ChangeSet)
	e.currentSpaceID = ""
}

// --- Read-only snapshots ---

// Conversation returns a copy of the cached conversation, or nil if absent.
func (e *Engine) Conversation(conversationID string) *Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()

	conv := e.cache.Get(conversationID)
	if conv == nil {
		return nil
	}
	out := *conv
	out.Messages = append([]Message(nil), conv.Messages...)
	return &out
}

// CurrentConversation returns a copy of the focused conversation, or nil.
func (e *Engine) CurrentConversation() *Conversation {
	e.mu.Lock()
	convID := e.spaces.Current(e.currentSpaceID)
	e.mu.Unlock()

	if convID == "" {
		return nil
	}
	return e.Conversation(convID)
}

// Session returns a snapshot of a conversation's session, or nil if the
// conversation has never had one.
func (e *Engine) Session(conversationID string) *SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessions.Get(conversationID)
	if s == nil {
		return nil
	}
	snap := s.snapshot()
	return &snap
}

// CurrentSession returns a snapshot of the focused conversation's session,
// or nil.
func (e *Engine) CurrentSession() *SessionState {
	e.mu.Lock()
	convID := e.spaces.Current(e.currentSpaceID)
	e.mu.Unlock()

	if convID == "" {
		return nil
	}
	return e.Session(convID)
}

// Conversations returns a copy of the meta list for a space.
func (e *Engine) Conversations(spaceID string) []ConversationMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spaces.Metas(spaceID)
}

// ChangeSets returns a copy of the cached change-set list for a conversation.
func (e *Engine) ChangeSets(conversationID string) []ChangeSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ChangeSet(nil), e.changeSets[conversationID]...)
}

package engine

import (
	"context"
	"errors"
)

// fakeBackend implements Backend with overridable function fields. Methods
// without an override succeed and return zero values.
type fakeBackend struct {
	sendMessage      func(ctx context.Context, req SendMessageRequest) error
	stopGeneration   func(ctx context.Context, conversationID string) error
	approveTool      func(ctx context.Context, conversationID, toolCallID string) error
	rejectTool       func(ctx context.Context, conversationID, toolCallID string) error
	answerQuestion   func(ctx context.Context, conversationID, toolCallID, answer string) error
	getConversation  func(ctx context.Context, conversationID string) (*Conversation, error)
	listConvs        func(ctx context.Context, spaceID string) ([]ConversationMeta, error)
	createConv       func(ctx context.Context, spaceID, title string) (*Conversation, error)
	updateConv       func(ctx context.Context, conversationID, title string) error
	deleteConv       func(ctx context.Context, conversationID string) error
	getSessionState  func(ctx context.Context, conversationID string) (*RemoteSessionState, error)
	listChangeSets   func(ctx context.Context, conversationID string) ([]ChangeSet, error)
	acceptChangeSet  func(ctx context.Context, conversationID, changeSetID, path string) (*ChangeSet, error)
	rollbackChangeSet func(ctx context.Context, conversationID, changeSetID, path string) (*ChangeSet, error)
}

var errFakeNotFound = errors.New("not found")

func (f *fakeBackend) SendMessage(ctx context.Context, req SendMessageRequest) error {
	if f.sendMessage != nil {
		return f.sendMessage(ctx, req)
	}
	return nil
}

func (f *fakeBackend) StopGeneration(ctx context.Context, conversationID string) error {
	if f.stopGeneration != nil {
		return f.stopGeneration(ctx, conversationID)
	}
	return nil
}

func (f *fakeBackend) ApproveTool(ctx context.Context, conversationID, toolCallID string) error {
	if f.approveTool != nil {
		return f.approveTool(ctx, conversationID, toolCallID)
	}
	return nil
}

func (f *fakeBackend) RejectTool(ctx context.Context, conversationID, toolCallID string) error {
	if f.rejectTool != nil {
		return f.rejectTool(ctx, conversationID, toolCallID)
	}
	return nil
}

func (f *fakeBackend) AnswerQuestion(ctx context.Context, conversationID, toolCallID, answer string) error {
	if f.answerQuestion != nil {
		return f.answerQuestion(ctx, conversationID, toolCallID, answer)
	}
	return nil
}

func (f *fakeBackend) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	if f.getConversation != nil {
		return f.getConversation(ctx, conversationID)
	}
	return nil, errFakeNotFound
}

func (f *fakeBackend) ListConversations(ctx context.Context, spaceID string) ([]ConversationMeta, error) {
	if f.listConvs != nil {
		return f.listConvs(ctx, spaceID)
	}
	return nil, nil
}

func (f *fakeBackend) CreateConversation(ctx context.Context, spaceID, title string) (*Conversation, error) {
	if f.createConv != nil {
		return f.createConv(ctx, spaceID, title)
	}
	return &Conversation{ID: "conv-new", SpaceID: spaceID, Title: title}, nil
}

func (f *fakeBackend) UpdateConversation(ctx context.Context, conversationID, title string) error {
	if f.updateConv != nil {
		return f.updateConv(ctx, conversationID, title)
	}
	return nil
}

func (f *fakeBackend) DeleteConversation(ctx context.Context, conversationID string) error {
	if f.deleteConv != nil {
		return f.deleteConv(ctx, conversationID)
	}
	return nil
}

func (f *fakeBackend) GetSessionState(ctx context.Context, conversationID string) (*RemoteSessionState, error) {
	if f.getSessionState != nil {
		return f.getSessionState(ctx, conversationID)
	}
	return &RemoteSessionState{}, nil
}

func (f *fakeBackend) ListChangeSets(ctx context.Context, conversationID string) ([]ChangeSet, error) {
	if f.listChangeSets != nil {
		return f.listChangeSets(ctx, conversationID)
	}
	return nil, nil
}

func (f *fakeBackend) AcceptChangeSet(ctx context.Context, conversationID, changeSetID, path string) (*ChangeSet, error) {
	if f.acceptChangeSet != nil {
		return f.acceptChangeSet(ctx, conversationID, changeSetID, path)
	}
	return nil, nil
}

func (f *fakeBackend) RollbackChangeSet(ctx context.Context, conversationID, changeSetID, path string) (*ChangeSet, error) {
	if f.rollbackChangeSet != nil {
		return f.rollbackChangeSet(ctx, conversationID, changeSetID, path)
	}
	return nil, nil
}

// newTestEngine creates an engine with synchronous completion so tests can
// observe post-reconciliation state without sleeping.
func newTestEngine(b Backend) *Engine {
	return New(Options{
		Backend:        b,
		SyncCompletion: true,
	})
}

// startRun creates a session for the conversation and adopts a run, the way
// it happens in production: a message is sent, then run_started arrives.
func startRun(e *Engine, spaceID, conversationID, runID string) {
	e.mu.Lock()
	e.sessions.GetOrCreate(spaceID, conversationID)
	e.mu.Unlock()
	e.HandleEvent(RunStartedEvent{EventBase: EventBase{
		Space:        spaceID,
		Conversation: conversationID,
		Run:          runID,
	}})
}

// base returns an EventBase for the test conversation.
func base(spaceID, conversationID, runID string) EventBase {
	return EventBase{Space: spaceID, Conversation: conversationID, Run: runID}
}

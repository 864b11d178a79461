package engine

import (
	"context"
	"errors"
)

// AnswerQuestion sends the user's answer to a pending ask-user-question.
// Three outcomes:
//
//   - the backend accepts: both question slots clear, and a terminal event
//     deferred behind the question resumes completion processing;
//   - the backend reports a semantic failure: the pending question becomes a
//     failed one carrying the backend's reason, and the run is considered
//     over (generating/streaming force-cleared);
//   - the request itself fails in transport: the pending question is left
//     untouched and the error is returned, so the caller can retry the same
//     answer.
func (e *Engine) AnswerQuestion(ctx context.Context, conversationID, answer string) error {
	e.mu.Lock()
	s := e.sessions.Get(conversationID)
	if s == nil || s.PendingAskUserQuestion == nil {
		e.mu.Unlock()
		return ErrNoPendingQuestion
	}
	toolCallID := s.PendingAskUserQuestion.ToolCallID
	e.mu.Unlock()

	err := e.backend.AnswerQuestion(ctx, conversationID, toolCallID, answer)

	var semantic *SemanticError
	switch {
	case err == nil:
		var reconcile *CompleteEvent
		e.mu.Lock()
		if s.PendingAskUserQuestion != nil && s.PendingAskUserQuestion.ToolCallID == toolCallID {
			s.PendingAskUserQuestion = nil
			s.FailedAskUserQuestion = nil
			reconcile = e.finalizeDeferredLocked(s)
		}
		e.mu.Unlock()
		if reconcile != nil {
			e.startReconcile(*reconcile)
		}
		return nil

	case errors.As(err, &semantic):
		e.mu.Lock()
		// Only the question this call was answering may be failed; a newer
		// question (or run) latched while the lock was released is left alone.
		if s.PendingAskUserQuestion != nil && s.PendingAskUserQuestion.ToolCallID == toolCallID {
			s.PendingAskUserQuestion = nil
			s.FailedAskUserQuestion = &FailedQuestion{
				ToolCallID: toolCallID,
				Error:      semantic.Reason,
			}
			s.IsGenerating = false
			s.IsStreaming = false
			s.Lifecycle = LifecycleFailed
			s.deferredComplete = nil
		}
		e.mu.Unlock()
		e.logger.Warn("Question answer rejected",
			"conversation_id", conversationID,
			"tool_call_id", toolCallID,
			"reason", semantic.Reason)
		return err

	default:
		// Transport failure: pending stays latched so the UI can retry.
		return err
	}
}

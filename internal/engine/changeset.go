package engine

import "context"

// AcceptChangeSet accepts a change set, or a single file within it when path
// is non-empty. On success the backend's updated change set is spliced into
// the cached list by identity; on any failure the whole list is re-fetched,
// so the client never keeps a locally-invented change-set state.
func (e *Engine) AcceptChangeSet(ctx context.Context, conversationID, changeSetID, path string) error {
	updated, err := e.backend.AcceptChangeSet(ctx, conversationID, changeSetID, path)
	return e.applyChangeSetResult(ctx, conversationID, updated, err)
}

// RollbackChangeSet reverts a change set, or a single file within it when
// path is non-empty. Splice-or-refetch semantics match AcceptChangeSet.
func (e *Engine) RollbackChangeSet(ctx context.Context, conversationID, changeSetID, path string) error {
	updated, err := e.backend.RollbackChangeSet(ctx, conversationID, changeSetID, path)
	return e.applyChangeSetResult(ctx, conversationID, updated, err)
}

// applyChangeSetResult folds the result of an accept/rollback call into the
// cached change-set list.
func (e *Engine) applyChangeSetResult(ctx context.Context, conversationID string, updated *ChangeSet, opErr error) error {
	if opErr == nil && updated != nil {
		e.mu.Lock()
		e.spliceChangeSetLocked(conversationID, *updated)
		e.mu.Unlock()
		return nil
	}

	if opErr != nil {
		e.logger.Warn("Change set operation failed, refetching",
			"conversation_id", conversationID,
			"error", opErr)
	}

	refreshed, err := e.backend.ListChangeSets(ctx, conversationID)
	if err != nil {
		// Keep the previous backend-supplied list; report the original
		// failure when there was one.
		if opErr != nil {
			return opErr
		}
		return err
	}

	e.mu.Lock()
	e.changeSets[conversationID] = refreshed
	e.mu.Unlock()
	return opErr
}

// spliceChangeSetLocked replaces the cached change set with the same ID, or
// appends it if absent. Must be called with the engine lock held.
func (e *Engine) spliceChangeSetLocked(conversationID string, updated ChangeSet) {
	list := e.changeSets[conversationID]
	for i := range list {
		if list[i].ID == updated.ID {
			list[i] = updated
			return
		}
	}
	e.changeSets[conversationID] = append(list, updated)
}

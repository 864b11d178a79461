package engine

import (
	"context"
	"sync"
	"time"
)

// reconcileTimeout bounds the authoritative refetch after a run ends.
const reconcileTimeout = 30 * time.Second

// reconcile is phase two of completion: fetch the authoritative conversation
// and change-set list in parallel, then merge them into the cache and the
// space directory while clearing the session's transient state, all as one
// state transition so no intermediate render can show a half-updated
// conversation next to a cleared session.
//
// If the authoritative fetch fails the session must still leave the
// generating state (never leave the UI stuck mid-stream); the terminal
// event's FinalContent, when present, then serves as a fallback assistant
// message for the cached conversation.
func (e *Engine) reconcile(ev CompleteEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	conversationID := ev.ConversationID()

	var (
		wg         sync.WaitGroup
		conv       *Conversation
		convErr    error
		changeSets []ChangeSet
		csErr      error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		conv, convErr = e.backend.GetConversation(ctx, conversationID)
	}()
	go func() {
		defer wg.Done()
		changeSets, csErr = e.backend.ListChangeSets(ctx, conversationID)
	}()
	wg.Wait()

	openPlan := false

	e.mu.Lock()
	s := e.sessions.Get(conversationID)

	// The session is gone: the conversation was deleted (or the engine was
	// reset) while we were fetching. Merging would resurrect it.
	if s == nil {
		e.mu.Unlock()
		return
	}

	// A new run may have been accepted while we were fetching; its state is
	// not ours to clear.
	if ev.Run != "" && s.ActiveRunID != ev.Run {
		e.mu.Unlock()
		return
	}

	if convErr != nil {
		e.logger.Warn("Authoritative reload failed",
			"conversation_id", conversationID,
			"error", convErr)
		if ev.FinalContent != "" {
			e.applyFinalContentLocked(conversationID, ev.FinalContent)
		}
		s.clearTransient()
		e.mu.Unlock()
		return
	}

	e.cache.Put(conv.ID, conv)
	e.spaces.ReplaceMeta(metaForConversation(conv))
	if csErr == nil {
		e.changeSets[conversationID] = changeSets
	} else {
		e.logger.Warn("Change set reload failed",
			"conversation_id", conversationID,
			"error", csErr)
	}
	s.clearTransient()

	// Open the plan view only when the reconciled conversation is still the
	// one the user is viewing, so a background run cannot steal focus.
	if last := conv.LastMessage(); last != nil && last.Role == RoleAssistant && last.IsPlan {
		if e.currentSpaceID == conv.SpaceID && e.spaces.IsCurrent(conv.SpaceID, conv.ID) {
			openPlan = true
		}
	}
	e.mu.Unlock()

	if openPlan && e.onOpenPlan != nil {
		e.onOpenPlan(conv.SpaceID, conv.ID)
	}
}

// applyFinalContentLocked installs the terminal event's fallback content as
// the cached conversation's last assistant message. The last assistant
// message is replaced in place; anything else gets an appended message.
// Must be called with the engine lock held.
func (e *Engine) applyFinalContentLocked(conversationID, finalContent string) {
	conv := e.cache.Get(conversationID)
	if conv == nil {
		return
	}

	now := time.Now()
	if last := conv.LastMessage(); last != nil && last.Role == RoleAssistant {
		last.Content = finalContent
		last.Timestamp = now
	} else {
		conv.Messages = append(conv.Messages, Message{
			ID:        "fallback-" + conversationID,
			Role:      RoleAssistant,
			Content:   finalContent,
			Timestamp: now,
		})
	}
	conv.UpdatedAt = now
	e.spaces.ReplaceMeta(metaForConversation(conv))
}

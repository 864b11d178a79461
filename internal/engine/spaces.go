package engine

// spaceState holds the directory entries for one space.
type spaceState struct {
	metas     []ConversationMeta
	currentID string
}

// SpaceDirectory tracks, per space, the list of lightweight conversation
// summaries and the pointer to the space's current conversation.
//
// Not safe for concurrent use; the Engine serializes access.
type SpaceDirectory struct {
	spaces map[string]*spaceState
}

// NewSpaceDirectory creates an empty space directory.
func NewSpaceDirectory() *SpaceDirectory {
	return &SpaceDirectory{spaces: make(map[string]*spaceState)}
}

func (d *SpaceDirectory) space(spaceID string) *spaceState {
	s, ok := d.spaces[spaceID]
	if !ok {
		s = &spaceState{}
		d.spaces[spaceID] = s
	}
	return s
}

// ReplaceMetas replaces the metadata list for a space wholesale.
// The current pointer is preserved if the conversation still exists,
// cleared otherwise.
func (d *SpaceDirectory) ReplaceMetas(spaceID string, metas []ConversationMeta) {
	s := d.space(spaceID)
	s.metas = metas
	if s.currentID != "" && d.findMeta(spaceID, s.currentID) == nil {
		s.currentID = ""
	}
}

// Metas returns a copy of the metadata list for a space.
func (d *SpaceDirectory) Metas(spaceID string) []ConversationMeta {
	s, ok := d.spaces[spaceID]
	if !ok {
		return nil
	}
	out := make([]ConversationMeta, len(s.metas))
	copy(out, s.metas)
	return out
}

// SetCurrent updates the space's current-conversation pointer.
// It never forces the full conversation to load.
func (d *SpaceDirectory) SetCurrent(spaceID, conversationID string) {
	d.space(spaceID).currentID = conversationID
}

// Current returns the space's current conversation ID, or "" if none.
func (d *SpaceDirectory) Current(spaceID string) string {
	s, ok := d.spaces[spaceID]
	if !ok {
		return ""
	}
	return s.currentID
}

// IsCurrent reports whether conversationID is the current conversation of
// spaceID. Used as the staleness check before focus-stealing actions such as
// opening a plan view.
func (d *SpaceDirectory) IsCurrent(spaceID, conversationID string) bool {
	return conversationID != "" && d.Current(spaceID) == conversationID
}

// InsertMeta inserts a meta at the head of its space's list.
func (d *SpaceDirectory) InsertMeta(meta ConversationMeta) {
	s := d.space(meta.SpaceID)
	s.metas = append([]ConversationMeta{meta}, s.metas...)
}

// ReplaceMeta replaces the meta with the same ID in its space's list.
// A meta that is not present is ignored.
func (d *SpaceDirectory) ReplaceMeta(meta ConversationMeta) {
	s, ok := d.spaces[meta.SpaceID]
	if !ok {
		return
	}
	for i := range s.metas {
		if s.metas[i].ID == meta.ID {
			s.metas[i] = meta
			return
		}
	}
}

// RenameMeta updates the title of a conversation's meta, if present.
func (d *SpaceDirectory) RenameMeta(spaceID, conversationID, title string) {
	s, ok := d.spaces[spaceID]
	if !ok {
		return
	}
	for i := range s.metas {
		if s.metas[i].ID == conversationID {
			s.metas[i].Title = title
			return
		}
	}
}

// RemoveMeta removes a conversation's meta from its space's list and clears
// the current pointer if it pointed at the removed conversation.
func (d *SpaceDirectory) RemoveMeta(spaceID, conversationID string) {
	s, ok := d.spaces[spaceID]
	if !ok {
		return
	}
	for i := range s.metas {
		if s.metas[i].ID == conversationID {
			s.metas = append(s.metas[:i], s.metas[i+1:]...)
			break
		}
	}
	if s.currentID == conversationID {
		s.currentID = ""
	}
}

// findMeta returns a pointer to the meta for conversationID, or nil.
func (d *SpaceDirectory) findMeta(spaceID, conversationID string) *ConversationMeta {
	s, ok := d.spaces[spaceID]
	if !ok {
		return nil
	}
	for i := range s.metas {
		if s.metas[i].ID == conversationID {
			return &s.metas[i]
		}
	}
	return nil
}

// Clear removes all spaces.
func (d *SpaceDirectory) Clear() {
	d.spaces = make(map[string]*spaceState)
}

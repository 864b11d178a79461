package engine

// DefaultCacheCapacity is the default number of fully-loaded conversations
// kept in memory.
const DefaultCacheCapacity = 10

// ConversationCache is a bounded map from conversation ID to fully-loaded
// Conversation. Eviction is insertion-order (FIFO): when the cache is full,
// the oldest inserted entry is dropped first, even if it was the most
// recently read. Reads do not refresh an entry's position; callers must not
// assume recency protection. Replacing an existing entry keeps its original
// insertion position.
//
// A Put replaces the whole conversation atomically; no entry is ever
// partially written.
//
// Not safe for concurrent use; the Engine serializes access.
type ConversationCache struct {
	capacity int
	order    []string // insertion order, oldest first
	entries  map[string]*Conversation
}

// NewConversationCache creates a cache with the given capacity.
// A capacity <= 0 falls back to DefaultCacheCapacity.
func NewConversationCache(capacity int) *ConversationCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &ConversationCache{
		capacity: capacity,
		entries:  make(map[string]*Conversation),
	}
}

// Get returns the cached conversation, or nil if absent.
func (c *ConversationCache) Get(id string) *Conversation {
	return c.entries[id]
}

// Put inserts or replaces a conversation. If inserting a new key pushes the
// cache over capacity, the oldest inserted entry is evicted.
func (c *ConversationCache) Put(id string, conv *Conversation) {
	if _, exists := c.entries[id]; exists {
		c.entries[id] = conv
		return
	}

	c.entries[id] = conv
	c.order = append(c.order, id)

	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Delete removes a conversation from the cache.
func (c *ConversationCache) Delete(id string) {
	if _, exists := c.entries[id]; !exists {
		return
	}
	delete(c.entries, id)
	for i, key := range c.order {
		if key == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of cached conversations.
func (c *ConversationCache) Len() int {
	return len(c.entries)
}

// Clear removes all entries.
func (c *ConversationCache) Clear() {
	c.order = nil
	c.entries = make(map[string]*Conversation)
}

package web

import (
	"sync"
	"time"
)

// Role identifies who produced a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DefaultMaxEntries is how much conversation history is kept.
const DefaultMaxEntries = 200

// resetNotice is appended after the history is cleared.
const resetNotice = "Conversation has been reset."

// ConversationEntry is one line of the conversation view.
type ConversationEntry struct {
	Time time.Time `json:"time"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
}

// Conversation is a bounded, thread-safe conversation history.
type Conversation struct {
	max int

	mu      sync.RWMutex
	entries []ConversationEntry
}

// NewConversation creates a history holding at most max entries.
func NewConversation(max int) *Conversation {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Conversation{
		max:     max,
		entries: make([]ConversationEntry, 0, max),
	}
}

// Add appends an entry, evicting the oldest when full.
func (c *Conversation) Add(role Role, text string) ConversationEntry {
	entry := ConversationEntry{Time: time.Now(), Role: role, Text: text}

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	if len(c.entries) > c.max {
		c.entries = c.entries[len(c.entries)-c.max:]
	}
	c.mu.Unlock()

	return entry
}

// Reset clears the history and records the reset notice.
func (c *Conversation) Reset() ConversationEntry {
	c.mu.Lock()
	c.entries = c.entries[:0]
	c.mu.Unlock()
	return c.Add(RoleSystem, resetNotice)
}

// Entries returns a copy of the history, oldest first.
func (c *Conversation) Entries() []ConversationEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ConversationEntry(nil), c.entries...)
}

// Len returns the number of entries.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

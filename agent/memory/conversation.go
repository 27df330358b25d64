package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KolosalAI/kolosal-agent/types"
)

// DefaultMaxMessages bounds the conversation log when no limit is configured.
const DefaultMaxMessages = 100

// ConversationMemory is a bounded sequence of conversation entries with role
// metadata. When the bound is exceeded the oldest entries are dropped.
type ConversationMemory struct {
	mu          sync.Mutex
	entries     []types.MemoryEntry
	maxMessages int
	now         func() time.Time
}

// NewConversationMemory creates a conversation log holding at most maxMessages
// entries. maxMessages <= 0 selects the default.
func NewConversationMemory(maxMessages int) *ConversationMemory {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &ConversationMemory{
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

// AddMessage appends a message with the given role. Role is recorded in the
// entry metadata under "role".
func (c *ConversationMemory) AddMessage(role, content string, metadata map[string]string) types.MemoryEntry {
	md := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md["role"] = role

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := types.MemoryEntry{
		ID:         uuid.New().String(),
		Content:    content,
		Type:       types.MemoryConversation,
		Metadata:   md,
		CreatedAt:  now,
		AccessedAt: now,
		UpdatedAt:  now,
	}
	c.entries = append(c.entries, entry)
	if len(c.entries) > c.maxMessages {
		c.entries = c.entries[len(c.entries)-c.maxMessages:]
	}
	return entry.Clone()
}

// Messages returns a copy of the current log, oldest first.
func (c *ConversationMemory) Messages() []types.MemoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.MemoryEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Clone())
	}
	return out
}

// Len returns the number of retained messages.
func (c *ConversationMemory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ContextWindow concatenates the most recent messages, newest last, fitting
// within maxChars. Trimming happens at message boundaries: a message that
// would overflow the budget is excluded entirely.
func (c *ConversationMemory) ContextWindow(maxChars int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if maxChars <= 0 || len(c.entries) == 0 {
		return ""
	}

	var picked []string
	used := 0
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		line := e.Metadata["role"] + ": " + e.Content
		cost := len(line)
		if len(picked) > 0 {
			cost++ // newline separator
		}
		if used+cost > maxChars {
			break
		}
		picked = append(picked, line)
		used += cost
	}

	// Reverse into chronological order, newest last.
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return strings.Join(picked, "\n")
}

// Clear drops all messages.
func (c *ConversationMemory) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// snapshot and restore are used by Manager serialization; callers hold no lock.
func (c *ConversationMemory) snapshot() []types.MemoryEntry {
	return c.Messages()
}

func (c *ConversationMemory) restore(entries []types.MemoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	for _, e := range entries {
		c.entries = append(c.entries, e.Clone())
	}
	if len(c.entries) > c.maxMessages {
		c.entries = c.entries[len(c.entries)-c.maxMessages:]
	}
}

package types

import "time"

// MemoryType classifies a stored recollection.
type MemoryType string

const (
	MemoryConversation MemoryType = "conversation"
	MemoryFact         MemoryType = "fact"
	MemoryProcedure    MemoryType = "procedure"
	MemoryContext      MemoryType = "context"
	MemoryGeneral      MemoryType = "general"
)

// MemoryEntry is a single stored recollection with content, metadata,
// bookkeeping timestamps, and an optional embedding vector.
type MemoryEntry struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	Type        MemoryType        `json:"type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	AccessedAt  time.Time         `json:"accessed_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	AccessCount int               `json:"access_count"`
	Embedding   []float32         `json:"embedding,omitempty"`
}

// Clone returns a deep copy of the entry.
func (e MemoryEntry) Clone() MemoryEntry {
	out := e
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Embedding = append([]float32(nil), e.Embedding...)
	return out
}

// MemoryQuery filters associative-store searches. Zero-valued fields do not
// constrain the result set.
type MemoryQuery struct {
	// Text is a case-insensitive substring match over entry content.
	Text string `json:"text,omitempty"`
	// Type restricts results to one memory type.
	Type MemoryType `json:"type,omitempty"`
	// Metadata entries must all match exactly.
	Metadata map[string]string `json:"metadata,omitempty"`
	// After/Before bound created_at.
	After  time.Time `json:"after,omitempty"`
	Before time.Time `json:"before,omitempty"`
	// Limit caps the number of results; 0 means unlimited.
	Limit int `json:"limit,omitempty"`
}

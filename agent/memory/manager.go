package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/llm/embedding"
	"github.com/KolosalAI/kolosal-agent/types"
)

// Config sizes a memory manager.
type Config struct {
	// MaxMessages bounds the conversation log (default 100).
	MaxMessages int `yaml:"max_messages" json:"max_messages"`
}

// Manager owns the memory triad for one agent. Sub-stores lock independently;
// the manager itself holds no lock while delegating, so conversation, vector,
// and working operations never contend with each other.
type Manager struct {
	Conversation *ConversationMemory
	Vector       *VectorMemory
	Working      *WorkingMemory

	logger *zap.Logger
}

// NewManager builds the triad with the given embedding provider.
func NewManager(cfg Config, embedder embedding.Provider, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if embedder == nil {
		embedder = embedding.NewHashProvider(0)
	}
	return &Manager{
		Conversation: NewConversationMemory(cfg.MaxMessages),
		Vector:       NewVectorMemory(embedder, logger),
		Working:      NewWorkingMemory(),
		logger:       logger.With(zap.String("component", "memory")),
	}
}

// Store places an entry into the vector store.
func (m *Manager) Store(ctx context.Context, entry types.MemoryEntry) (types.MemoryEntry, error) {
	return m.Vector.Store(ctx, entry)
}

// Recall runs a filtered search over the vector store.
func (m *Manager) Recall(query types.MemoryQuery) []types.MemoryEntry {
	return m.Vector.Search(query)
}

// EntryCount reports the number of long-term entries.
func (m *Manager) EntryCount() int {
	return m.Vector.Len()
}

// Cleanup applies the age+access reclamation policy to the vector store.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	return m.Vector.Cleanup(maxAge)
}

// ClearWorking drops the scratchpad; called when the agent stops.
func (m *Manager) ClearWorking() {
	m.Working.Clear()
}

// image is the serialized form of a memory manager. Working memory is
// intentionally excluded: it is non-persistent by contract.
type image struct {
	Version      int                 `json:"version"`
	Conversation []types.MemoryEntry `json:"conversation"`
	Vector       []types.MemoryEntry `json:"vector"`
}

const imageVersion = 1

// Serialize captures the persistent sub-stores as opaque bytes.
func (m *Manager) Serialize() ([]byte, error) {
	img := image{
		Version:      imageVersion,
		Conversation: m.Conversation.snapshot(),
		Vector:       m.Vector.snapshot(),
	}
	data, err := json.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize memory: %w", err)
	}
	return data, nil
}

// Deserialize replaces the persistent sub-stores with the captured image.
func (m *Manager) Deserialize(data []byte) error {
	var img image
	if err := json.Unmarshal(data, &img); err != nil {
		return types.NewError(types.ErrValidation, "malformed memory image").WithCause(err)
	}
	if img.Version != imageVersion {
		return types.NewErrorf(types.ErrValidation, "unsupported memory image version %d", img.Version)
	}
	m.Conversation.restore(img.Conversation)
	m.Vector.restore(img.Vector)
	m.logger.Debug("memory image restored",
		zap.Int("conversation", len(img.Conversation)),
		zap.Int("vector", len(img.Vector)),
	)
	return nil
}

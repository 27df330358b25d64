package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/llm/embedding"
	"github.com/KolosalAI/kolosal-agent/types"
)

// cleanupMinAccessCount protects frequently used entries from age-based
// cleanup: entries accessed this many times or more are never reclaimed.
const cleanupMinAccessCount = 5

// VectorMemory is the associative store keyed by entry id. Stored content is
// embedded through the injected provider; retrieval ranks by cosine
// similarity.
type VectorMemory struct {
	mu       sync.Mutex
	items    map[string]*types.MemoryEntry
	embedder embedding.Provider
	now      func() time.Time
	logger   *zap.Logger
}

// NewVectorMemory creates an associative store backed by the given embedding
// provider.
func NewVectorMemory(embedder embedding.Provider, logger *zap.Logger) *VectorMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorMemory{
		items:    make(map[string]*types.MemoryEntry),
		embedder: embedder,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "vector_memory")),
	}
}

// Store embeds the entry content and keeps the vector alongside the entry.
// A missing id is filled in; the stored entry is returned.
func (m *VectorMemory) Store(ctx context.Context, entry types.MemoryEntry) (types.MemoryEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Type == "" {
		entry.Type = types.MemoryGeneral
	}

	vec, err := m.embedder.Embed(ctx, entry.Content)
	if err != nil {
		return types.MemoryEntry{}, types.NewError(types.ErrDependency, "embedding provider failed").
			WithComponent("vector_memory").WithCause(err)
	}
	entry.Embedding = vec

	now := m.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.AccessedAt = now
	entry.UpdatedAt = now

	m.mu.Lock()
	stored := entry.Clone()
	m.items[entry.ID] = &stored
	m.mu.Unlock()

	return entry, nil
}

// Get returns the entry by id, bumping its access bookkeeping.
func (m *VectorMemory) Get(id string) (types.MemoryEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[id]
	if !ok {
		return types.MemoryEntry{}, false
	}
	m.touchLocked(e)
	return e.Clone(), true
}

// Search filters entries by the query's text, type, metadata, and time range,
// most recently updated first. Every returned entry has its access
// bookkeeping bumped.
func (m *VectorMemory) Search(query types.MemoryQuery) []types.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(query.Text)
	var out []types.MemoryEntry
	for _, e := range m.items {
		if !matchesQuery(e, query, needle) {
			continue
		}
		m.touchLocked(e)
		out = append(out, e.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out
}

// scored pairs an entry with its similarity score for ranking.
type scored struct {
	entry *types.MemoryEntry
	score float64
}

// SemanticSearch embeds the query text and returns the top-k entries ranked
// by cosine similarity, descending. Ties break by descending access count,
// then descending updated_at. Results have access bookkeeping bumped.
func (m *VectorMemory) SemanticSearch(ctx context.Context, text string, k int) ([]types.MemoryEntry, []float64, error) {
	if k <= 0 {
		return nil, nil, nil
	}

	qvec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, nil, types.NewError(types.ErrDependency, "embedding provider failed").
			WithComponent("vector_memory").WithCause(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ranked := make([]scored, 0, len(m.items))
	for _, e := range m.items {
		ranked = append(ranked, scored{entry: e, score: CosineSimilarity(qvec, e.Embedding)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].entry.AccessCount != ranked[j].entry.AccessCount {
			return ranked[i].entry.AccessCount > ranked[j].entry.AccessCount
		}
		return ranked[i].entry.UpdatedAt.After(ranked[j].entry.UpdatedAt)
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	entries := make([]types.MemoryEntry, 0, k)
	scores := make([]float64, 0, k)
	for _, r := range ranked[:k] {
		m.touchLocked(r.entry)
		entries = append(entries, r.entry.Clone())
		scores = append(scores, r.score)
	}
	return entries, scores, nil
}

// Delete removes an entry by id.
func (m *VectorMemory) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return false
	}
	delete(m.items, id)
	return true
}

// Len returns the number of stored entries.
func (m *VectorMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Cleanup removes entries older than maxAge that have been accessed fewer
// than five times. Frequently used entries are never reclaimed. Returns the
// number of removed entries.
func (m *VectorMemory) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for id, e := range m.items {
		if e.CreatedAt.Before(cutoff) && e.AccessCount < cleanupMinAccessCount {
			delete(m.items, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("vector memory cleanup", zap.Int("removed", removed))
	}
	return removed
}

func (m *VectorMemory) touchLocked(e *types.MemoryEntry) {
	e.AccessCount++
	e.AccessedAt = m.now()
}

func matchesQuery(e *types.MemoryEntry, q types.MemoryQuery, needle string) bool {
	if needle != "" && !strings.Contains(strings.ToLower(e.Content), needle) {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	for k, v := range q.Metadata {
		if e.Metadata[k] != v {
			return false
		}
	}
	if !q.After.IsZero() && e.CreatedAt.Before(q.After) {
		return false
	}
	if !q.Before.IsZero() && e.CreatedAt.After(q.Before) {
		return false
	}
	return true
}

// snapshot and restore back Manager serialization.
func (m *VectorMemory) snapshot() []types.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.MemoryEntry, 0, len(m.items))
	for _, e := range m.items {
		out = append(out, e.Clone())
	}
	return out
}

func (m *VectorMemory) restore(entries []types.MemoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*types.MemoryEntry, len(entries))
	for _, e := range entries {
		stored := e.Clone()
		m.items[e.ID] = &stored
	}
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-norm vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

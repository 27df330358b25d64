package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/KolosalAI/kolosal-agent/llm/embedding"
	"github.com/KolosalAI/kolosal-agent/types"
)

// Cosine similarity is symmetric and bounded to [-1, 1] for arbitrary vectors.
func TestCosineSimilarityProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 16).Draw(t, "dim")
		gen := rapid.Float32Range(-100, 100)

		a := make([]float32, n)
		b := make([]float32, n)
		for i := 0; i < n; i++ {
			a[i] = gen.Draw(t, fmt.Sprintf("a%d", i))
			b[i] = gen.Draw(t, fmt.Sprintf("b%d", i))
		}

		ab := CosineSimilarity(a, b)
		ba := CosineSimilarity(b, a)

		if ab != ba {
			t.Fatalf("not symmetric: %v vs %v", ab, ba)
		}
		if ab < -1.0000001 || ab > 1.0000001 {
			t.Fatalf("out of range: %v", ab)
		}
	})
}

// SemanticSearch returns at most k entries with non-increasing scores.
func TestSemanticSearchTopKProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewVectorMemory(embedding.NewHashProvider(32), zap.NewNop())
		ctx := context.Background()

		count := rapid.IntRange(0, 20).Draw(t, "count")
		for i := 0; i < count; i++ {
			content := rapid.StringMatching(`[a-z]{1,8}( [a-z]{1,8}){0,4}`).Draw(t, fmt.Sprintf("content%d", i))
			_, err := m.Store(ctx, types.MemoryEntry{Content: content})
			require.NoError(t, err)
		}

		k := rapid.IntRange(1, 25).Draw(t, "k")
		query := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "query")

		entries, scores, err := m.SemanticSearch(ctx, query, k)
		require.NoError(t, err)

		if len(entries) > k {
			t.Fatalf("got %d entries for k=%d", len(entries), k)
		}
		for i := 1; i < len(scores); i++ {
			if scores[i-1] < scores[i] {
				t.Fatalf("scores not non-increasing at %d: %v", i, scores)
			}
		}
	})
}

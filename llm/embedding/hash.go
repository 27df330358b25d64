package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// HashProvider is a deterministic embedding provider: the vector is derived
// from token hashes of the input text. Equal texts always embed to equal
// vectors, which makes similarity ranking stable and testable without a
// model. It is the default when no external provider is configured.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a deterministic provider with the given dimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 64
	}
	return &HashProvider{dimension: dimension}
}

func (p *HashProvider) Name() string   { return "hash" }
func (p *HashProvider) Dimension() int { return p.dimension }

// Embed hashes whitespace-separated tokens into vector buckets and
// L2-normalizes the result, so cosine similarity behaves like token overlap.
func (p *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, p.dimension)
	start := -1
	for i := 0; i <= len(text); i++ {
		boundary := i == len(text) || text[i] == ' ' || text[i] == '\t' || text[i] == '\n'
		if boundary {
			if start >= 0 {
				p.addToken(vec, text[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (p *HashProvider) addToken(vec []float32, token string) {
	h := fnv.New64a()
	h.Write([]byte(token))
	sum := h.Sum64()
	bucket := int(sum % uint64(p.dimension))
	// Sign bit from a higher hash bit keeps buckets from only accumulating.
	if sum&(1<<63) != 0 {
		vec[bucket] -= 1
	} else {
		vec[bucket] += 1
	}
}

var _ Provider = (*HashProvider)(nil)

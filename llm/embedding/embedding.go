// Package embedding defines the embedding provider contract used by the
// per-agent vector memory. The vector dimension is a property of the provider
// and is injected; the runtime never assumes it.
package embedding

import "context"

// Provider produces fixed-dimension embedding vectors for text.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string
	// Dimension is the length of every vector the provider returns.
	Dimension() int
	// Embed produces the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchProvider is an optional extension for providers that can embed several
// texts in one round trip.
type BatchProvider interface {
	Provider
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

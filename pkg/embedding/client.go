// Package embedding implements the Embedding Client: obtaining a
// fixed-length vector for a text via an HTTP embedding service, with a
// cached, resolved dimension.
package embedding

import "context"

// Client is the contract every embedding backend implements.
type Client interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dims returns the currently resolved vector length and whether it has
	// been resolved yet. It is null (ok=false) until the first successful
	// resolution (either a known-model lookup or a completed embed call).
	Dims() (dims int, ok bool)

	// ProbeDims forces resolution, embedding a short probe string if the
	// dimension is not already known.
	ProbeDims(ctx context.Context) (int, error)
}

// knownModelDims seeds dimensions for models whose output size is known up
// front, avoiding a network round trip purely to discover it.
var knownModelDims = map[string]int{
	"nomic-embed-text":       768,
	"all-MiniLM-L6-v2":       384,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

const probeText = "dimension probe"

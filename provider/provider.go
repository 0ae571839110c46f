package provider

import (
	"context"
	"fmt"
)

// FallbackResponse is returned by Generate whenever the generation call
// fails for any reason. The chat endpoint must never fail solely because
// generation failed, so the provider swallows those errors itself.
const FallbackResponse = "I'm sorry, I couldn't generate a response right now. Please try again in a moment."

// Provider is the interface the RAG pipelines talk to. Embedding errors
// propagate; generation fails soft with FallbackResponse.
type Provider interface {
	// Embed converts a single text into a vector. Fails on empty or
	// whitespace-only input without making a network call.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts into vectors, dropping empty entries
	// before sending. The returned indexes slice maps each vector back to
	// the position of its input text, so callers can correlate results
	// even when entries were dropped. Fails when nothing survives the
	// filter, without making a network call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, []int, error)

	// Generate answers the query grounded on the retrieved context.
	// Never returns an error: any failure yields FallbackResponse.
	Generate(ctx context.Context, query, contextBlock string) string
}

// EmbeddingError wraps the underlying failure from the embedding API.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding failed: %v", e.Err) }
func (e *EmbeddingError) Unwrap() error { return e.Err }

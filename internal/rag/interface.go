// Package rag defines the interfaces and data model for the retrieval-
// augmented generation core: vector storage, embedding, answer generation,
// and the query-time ranking engine. Concrete backends (Qdrant, chromem-go,
// Ollama, OpenAI, …) satisfy these interfaces so the pipeline and server
// never depend on a specific vendor.
package rag

import (
	"context"
)

// Chunk is the atomic unit stored in and retrieved from the vector store:
// a contiguous substring of a document plus its embedding and metadata.
type Chunk struct {
	// ID is the deterministic identifier "doc_{doc_hash}_chunk_{i}".
	ID string

	// Text is the raw text content of the chunk.
	Text string

	// Metadata holds the document metadata plus the per-chunk keys
	// "doc_hash" and "chunk_id".
	Metadata map[string]string

	// Embedding is the dense vector for Text. It may be nil on chunks
	// returned from metadata lookups where vectors were not requested.
	Embedding []float32
}

// Metadata keys attached to every stored chunk.
const (
	// MetaSource is the logical document identifier (e.g. the filename).
	// Chunks sharing a source belong to the same document; a re-upload
	// with a new fingerprint supersedes all chunks with the same source.
	MetaSource = "source"

	// MetaDocHash is the content fingerprint of the originating document.
	MetaDocHash = "doc_hash"

	// MetaChunkID is the sequential chunk label "chunk_{i}" within one
	// chunking pass of a document.
	MetaChunkID = "chunk_id"
)

// SearchResult is a single nearest-neighbor hit returned by a VectorStore.
type SearchResult struct {
	// Text is the stored chunk text.
	Text string

	// Metadata is the stored chunk metadata.
	Metadata map[string]string

	// Distance is the embedding-space distance to the query vector.
	// Smaller is closer. The engine converts it to a similarity s = 1 - d.
	Distance float64
}

// VectorStore is the interface for persisting and searching document chunks.
// The store is the sole owner of persisted chunks; callers never cache them.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// GetByMetadata returns all chunks whose metadata matches every
	// key/value pair in filter. An empty result is not an error.
	GetByMetadata(ctx context.Context, filter map[string]string) ([]Chunk, error)

	// DeleteByMetadata removes all chunks matching filter and returns the
	// number of chunks removed. Matching nothing is a normal (0, nil)
	// result, not an error.
	DeleteByMetadata(ctx context.Context, filter map[string]string) (int, error)

	// AddBatch persists a batch of chunks with their pre-computed
	// embeddings as one logical operation.
	AddBatch(ctx context.Context, chunks []Chunk) error

	// QueryNearest returns up to n nearest neighbors for the given query
	// embedding, ordered closest-first, with texts, metadata, and distances.
	QueryNearest(ctx context.Context, embedding []float32, n int) ([]SearchResult, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator is the interface for producing a natural-language answer from an
// assembled prompt. Implementations must be safe to call from multiple
// goroutines.
type Generator interface {
	// Generate returns the model's answer for the given prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

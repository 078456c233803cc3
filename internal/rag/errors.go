package rag

import (
	"errors"
)

// Sentinel errors classifying failures across the RAG pipeline. Concrete
// errors wrap these with %w so callers can branch with errors.Is without
// depending on backend-specific error types.
var (
	// ErrEmbedding marks a failure of the embedding backend.
	ErrEmbedding = errors.New("embedding failed")

	// ErrStore marks a failure of a vector store operation.
	ErrStore = errors.New("vector store operation failed")

	// ErrGeneration marks a failure of the answer generator. The engine
	// never propagates it — the answer degrades to a fixed apology — but
	// it is used internally and by Generator implementations.
	ErrGeneration = errors.New("answer generation failed")

	// ErrIngestion marks a failed document ingestion. It always wraps the
	// underlying ErrEmbedding or ErrStore cause.
	ErrIngestion = errors.New("ingestion failed")
)

// Package ingestion implements the document ingestion pipeline: fingerprint,
// duplicate check, stale-version cleanup, chunking, embedding, and batch
// insert into the vector store. The pipeline is invoked by the HTTP document
// upload handler and the `docq ingest` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quenlabs/docq/internal/chunker"
	"github.com/quenlabs/docq/internal/rag"
)

// Status classifies the outcome of one AddDocument call.
type Status string

const (
	// StatusStored means the document's chunks were embedded and persisted.
	StatusStored Status = "stored"

	// StatusSkipped means nothing was written; Outcome.Reason says why.
	StatusSkipped Status = "skipped"
)

// Skip reasons reported in Outcome.Reason.
const (
	// ReasonUnchanged means a document with the same fingerprint is
	// already stored.
	ReasonUnchanged = "unchanged"

	// ReasonEmptyAfterSplit means chunking yielded no usable text.
	ReasonEmptyAfterSplit = "empty-after-split"
)

// Outcome describes the result of ingesting one document.
type Outcome struct {
	// Status is StatusStored or StatusSkipped.
	Status Status `json:"status"`

	// Reason is set for skipped documents.
	Reason string `json:"reason,omitempty"`

	// Chunks is the number of chunks persisted (0 when skipped).
	Chunks int `json:"chunks"`

	// Superseded is the number of stale chunks deleted for the same source.
	Superseded int `json:"superseded"`

	// DocHash is the document fingerprint.
	DocHash string `json:"doc_hash"`

	// Source is the logical document identifier, if present in metadata.
	Source string `json:"source,omitempty"`
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum chunk length in runes. Defaults per chunker.
	ChunkSize int

	// ChunkOverlap is the rune overlap between consecutive chunks.
	// Defaults per chunker.
	ChunkOverlap int

	// Logger is the structured logger for ingestion events.
	// If nil, slog.Default is used.
	Logger *slog.Logger
}

// Pipeline orchestrates the fingerprint → dedup → supersede → chunk → embed
// → store flow for uploaded documents. Concurrent calls for the same source
// are serialized so a slow re-upload cannot interleave its delete and insert
// with another upload of the same document.
type Pipeline struct {
	// embedder converts chunk texts into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// splitter performs the recursive character splitting.
	splitter *chunker.Splitter

	// log is the structured logger for this pipeline instance.
	log *slog.Logger

	// mu guards locks.
	mu sync.Mutex

	// locks holds one mutex per source currently or previously ingested.
	locks map[string]*sync.Mutex
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		splitter: chunker.New(chunker.Config{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
		}),
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// AddDocument ingests one document. Re-submitting an identical (text,
// metadata) pair is an idempotent no-op; a changed document with the same
// metadata source supersedes the stored version. The input metadata map is
// not mutated.
func (p *Pipeline) AddDocument(ctx context.Context, text string, metadata map[string]string) (*Outcome, error) {
	meta := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}

	docHash := Fingerprint(text, meta)
	meta[rag.MetaDocHash] = docHash
	source := meta[rag.MetaSource]

	if source != "" {
		lock := p.sourceLock(source)
		lock.Lock()
		defer lock.Unlock()
	}

	outcome := &Outcome{DocHash: docHash, Source: source}

	existing, err := p.store.GetByMetadata(ctx, map[string]string{rag.MetaDocHash: docHash})
	if err != nil {
		return nil, fmt.Errorf("ingestion: duplicate check for %q: %w: %w", source, rag.ErrIngestion, err)
	}
	if len(existing) > 0 {
		p.log.Info("ingest: unchanged document skipped",
			slog.String("source", source),
			slog.String("doc_hash", docHash),
		)
		outcome.Status = StatusSkipped
		outcome.Reason = ReasonUnchanged
		return outcome, nil
	}

	if source != "" {
		// A different fingerprint under the same source means a new
		// version: drop the stale chunks first. Cleanup is best-effort;
		// a failure here must not lose the new version.
		deleted, err := p.store.DeleteByMetadata(ctx, map[string]string{rag.MetaSource: source})
		if err != nil {
			p.log.Warn("ingest: stale version cleanup failed",
				slog.String("source", source),
				slog.Any("error", err),
			)
		} else if deleted > 0 {
			p.log.Info("ingest: superseded previous version",
				slog.String("source", source),
				slog.Int("chunks_deleted", deleted),
			)
			outcome.Superseded = deleted
		}
	}

	texts := p.splitter.Split(text)
	if len(texts) == 0 {
		p.log.Info("ingest: document empty after split", slog.String("source", source))
		outcome.Status = StatusSkipped
		outcome.Reason = ReasonEmptyAfterSplit
		return outcome, nil
	}

	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embedding %d chunks for %q: %w: %w", len(texts), source, rag.ErrIngestion, err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("ingestion: embedder returned %d vectors for %d chunks: %w", len(embeddings), len(texts), rag.ErrIngestion)
	}

	chunks := make([]rag.Chunk, 0, len(texts))
	for i, t := range texts {
		chunkMeta := make(map[string]string, len(meta)+1)
		for k, v := range meta {
			chunkMeta[k] = v
		}
		chunkMeta[rag.MetaChunkID] = ChunkLabel(i)

		chunks = append(chunks, rag.Chunk{
			ID:        ChunkDocID(docHash, i),
			Text:      t,
			Metadata:  chunkMeta,
			Embedding: embeddings[i],
		})
	}

	if err := p.store.AddBatch(ctx, chunks); err != nil {
		return nil, fmt.Errorf("ingestion: storing %d chunks for %q: %w: %w", len(chunks), source, rag.ErrIngestion, err)
	}

	p.log.Info("ingest: document stored",
		slog.String("source", source),
		slog.String("doc_hash", docHash),
		slog.Int("chunks", len(chunks)),
	)

	outcome.Status = StatusStored
	outcome.Chunks = len(chunks)
	return outcome, nil
}

// RemoveDocument deletes all stored chunks for a source and returns how many
// were removed.
func (p *Pipeline) RemoveDocument(ctx context.Context, source string) (int, error) {
	lock := p.sourceLock(source)
	lock.Lock()
	defer lock.Unlock()

	deleted, err := p.store.DeleteByMetadata(ctx, map[string]string{rag.MetaSource: source})
	if err != nil {
		return 0, fmt.Errorf("ingestion: deleting document %q: %w", source, err)
	}
	p.log.Info("ingest: document removed",
		slog.String("source", source),
		slog.Int("chunks_deleted", deleted),
	)
	return deleted, nil
}

// sourceLock returns the mutex serializing operations on one source.
func (p *Pipeline) sourceLock(source string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[source]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[source] = lock
	}
	return lock
}

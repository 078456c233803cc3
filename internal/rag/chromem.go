package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemConfig holds parameters for the embedded chromem-go vector store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty selects a purely in-memory
	// store, which is what the tests use.
	Path string

	// Collection is the collection name (default: "documents").
	Collection string

	// Compress enables gzip compression of the persisted collection files.
	Compress bool
}

// docEntry is one document's record in the sidecar index.
type docEntry struct {
	// DocHash is the content fingerprint of the stored document.
	DocHash string `json:"doc_hash"`

	// Chunks is the number of chunks stored for the document.
	Chunks int `json:"chunks"`
}

// ChromemStore implements VectorStore backed by the embedded chromem-go
// database. chromem-go has no API to enumerate documents by metadata, so the
// store keeps a sidecar index mapping source → {doc_hash, chunk count}; the
// deterministic chunk IDs make every stored chunk reachable from it.
// Metadata filters are therefore limited to the "source" and "doc_hash" keys.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection

	// mu serializes index mutations and sidecar writes.
	mu sync.Mutex

	// index maps source → entry. Documents stored without source metadata
	// are keyed by their doc_hash instead, so two sourceless documents
	// never share (and clobber) one entry. Rebuilt from the sidecar file
	// on open.
	index map[string]docEntry

	// indexPath is the sidecar file location; empty for in-memory stores.
	indexPath string
}

// NewChromemStore opens (or creates) a chromem-go collection and loads the
// sidecar index.
func NewChromemStore(cfg *ChromemConfig) (*ChromemStore, error) {
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("chromem: failed to open database at %q: %w", cfg.Path, err)
		}
	}

	// nil embedding function: every call path supplies pre-computed vectors.
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("chromem: embedding function not configured, vectors must be pre-computed")
	})
	if err != nil {
		return nil, fmt.Errorf("chromem: failed to open collection %q: %w", cfg.Collection, err)
	}

	store := &ChromemStore{
		db:         db,
		collection: collection,
		index:      make(map[string]docEntry),
	}
	if cfg.Path != "" {
		store.indexPath = filepath.Join(cfg.Path, cfg.Collection+".index.json")
		if err := store.loadIndex(); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// loadIndex reads the sidecar index file. A missing file means an empty store.
func (s *ChromemStore) loadIndex() error {
	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("chromem: failed to read index %q: %w", s.indexPath, err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return fmt.Errorf("chromem: corrupt index %q: %w", s.indexPath, err)
	}
	return nil
}

// saveIndex writes the sidecar index atomically via a temp file rename.
// Callers must hold s.mu.
func (s *ChromemStore) saveIndex() error {
	if s.indexPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("chromem: failed to encode index: %w", err)
	}
	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("chromem: failed to write index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath); err != nil {
		return fmt.Errorf("chromem: failed to replace index: %w", err)
	}
	return nil
}

// matchingSources returns the sources whose index entries satisfy filter.
// Only the "source" and "doc_hash" keys are supported.
func (s *ChromemStore) matchingSources(filter map[string]string) ([]string, error) {
	for k := range filter {
		if k != MetaSource && k != MetaDocHash {
			return nil, fmt.Errorf("chromem: unsupported metadata filter key %q (only %q and %q)", k, MetaSource, MetaDocHash)
		}
	}

	var sources []string
	for source, entry := range s.index {
		if v, ok := filter[MetaSource]; ok && v != source {
			continue
		}
		if v, ok := filter[MetaDocHash]; ok && v != entry.DocHash {
			continue
		}
		sources = append(sources, source)
	}
	return sources, nil
}

// AddBatch stores a batch of chunks with their pre-computed embeddings and
// records them in the sidecar index.
func (s *ChromemStore) AddBatch(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	perKey := make(map[string]docEntry)
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Metadata:  c.Metadata,
			Embedding: c.Embedding,
		})

		// Sourceless chunks fall back to the doc_hash key; a shared ""
		// key would let a later sourceless document overwrite an earlier
		// one's index entry.
		key := c.Metadata[MetaSource]
		if key == "" {
			key = c.Metadata[MetaDocHash]
		}
		entry := perKey[key]
		entry.DocHash = c.Metadata[MetaDocHash]
		entry.Chunks++
		perKey[key] = entry
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: failed to add documents: %w: %v", ErrStore, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range perKey {
		s.index[key] = entry
	}
	return s.saveIndex()
}

// GetByMetadata returns all chunks matching filter, resolved through the
// sidecar index and fetched by their deterministic IDs.
func (s *ChromemStore) GetByMetadata(ctx context.Context, filter map[string]string) ([]Chunk, error) {
	s.mu.Lock()
	sources, err := s.matchingSources(filter)
	entries := make(map[string]docEntry, len(sources))
	for _, src := range sources {
		entries[src] = s.index[src]
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []Chunk
	for _, entry := range entries {
		for i := 0; i < entry.Chunks; i++ {
			id := fmt.Sprintf("doc_%s_chunk_%d", entry.DocHash, i)
			doc, err := s.collection.GetByID(ctx, id)
			if err != nil {
				// Index and collection out of sync; skip the hole rather
				// than failing the whole lookup.
				continue
			}
			out = append(out, Chunk{
				ID:        doc.ID,
				Text:      doc.Content,
				Metadata:  doc.Metadata,
				Embedding: doc.Embedding,
			})
		}
	}
	return out, nil
}

// DeleteByMetadata removes all chunks matching filter and returns the count
// of removed chunks, taken from the sidecar index.
func (s *ChromemStore) DeleteByMetadata(ctx context.Context, filter map[string]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sources, err := s.matchingSources(filter)
	if err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		return 0, nil
	}

	total := 0
	for _, src := range sources {
		total += s.index[src].Chunks
	}

	if err := s.collection.Delete(ctx, filter, nil); err != nil {
		return 0, fmt.Errorf("chromem: failed to delete documents: %w: %v", ErrStore, err)
	}

	for _, src := range sources {
		delete(s.index, src)
	}
	if err := s.saveIndex(); err != nil {
		return total, err
	}
	return total, nil
}

// QueryNearest performs a similarity search over the pre-computed embeddings.
// chromem reports cosine similarity, so the distance is 1 - similarity. n is
// clamped to the collection size; chromem rejects larger values.
func (s *ChromemStore) QueryNearest(ctx context.Context, embedding []float32, n int) ([]SearchResult, error) {
	if count := s.collection.Count(); n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query failed: %w: %v", ErrStore, err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			Text:     r.Content,
			Metadata: r.Metadata,
			Distance: 1 - float64(r.Similarity),
		})
	}
	return out, nil
}

// Close is a no-op: chromem-go persists on write and holds no connections.
func (s *ChromemStore) Close() error {
	return nil
}

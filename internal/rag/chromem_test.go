package rag

import (
	"context"
	"fmt"
	"testing"
)

// openTestChromem returns an in-memory ChromemStore for tests.
func openTestChromem(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(&ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testChunk builds a chunk with the deterministic ID layout the pipeline uses.
func testChunk(docHash, source string, i int, text string, embedding []float32) Chunk {
	return Chunk{
		ID:   fmt.Sprintf("doc_%s_chunk_%d", docHash, i),
		Text: text,
		Metadata: map[string]string{
			MetaSource:  source,
			MetaDocHash: docHash,
			MetaChunkID: fmt.Sprintf("chunk_%d", i),
		},
		Embedding: embedding,
	}
}

func seedTestChunks(t *testing.T, store *ChromemStore) {
	t.Helper()
	err := store.AddBatch(context.Background(), []Chunk{
		testChunk("hashA", "a.txt", 0, "alpha one", []float32{1, 0, 0}),
		testChunk("hashA", "a.txt", 1, "alpha two", []float32{0.6, 0.8, 0}),
		testChunk("hashB", "b.txt", 0, "beta one", []float32{0, 1, 0}),
	})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
}

func Test_ChromemStore_GetByMetadata_Source(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)
	seedTestChunks(t, store)

	chunks, err := store.GetByMetadata(context.Background(), map[string]string{MetaSource: "a.txt"})
	if err != nil {
		t.Fatalf("GetByMetadata: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("want 2 chunks for a.txt, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.Metadata[MetaDocHash] != "hashA" {
			t.Errorf("chunk %s doc_hash = %q, want hashA", c.ID, c.Metadata[MetaDocHash])
		}
	}
}

func Test_ChromemStore_GetByMetadata_DocHash(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)
	seedTestChunks(t, store)

	chunks, err := store.GetByMetadata(context.Background(), map[string]string{MetaDocHash: "hashB"})
	if err != nil {
		t.Fatalf("GetByMetadata: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "beta one" {
		t.Fatalf("want beta chunk, got %+v", chunks)
	}
}

func Test_ChromemStore_GetByMetadata_NoMatch(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)
	seedTestChunks(t, store)

	chunks, err := store.GetByMetadata(context.Background(), map[string]string{MetaSource: "missing.txt"})
	if err != nil {
		t.Fatalf("GetByMetadata: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("want no chunks, got %d", len(chunks))
	}
}

func Test_ChromemStore_GetByMetadata_UnsupportedKey(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)

	if _, err := store.GetByMetadata(context.Background(), map[string]string{"author": "x"}); err == nil {
		t.Fatal("want error for unsupported filter key")
	}
}

func Test_ChromemStore_DeleteByMetadata(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)
	seedTestChunks(t, store)

	n, err := store.DeleteByMetadata(context.Background(), map[string]string{MetaSource: "a.txt"})
	if err != nil {
		t.Fatalf("DeleteByMetadata: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	remaining, err := store.GetByMetadata(context.Background(), map[string]string{MetaSource: "a.txt"})
	if err != nil {
		t.Fatalf("GetByMetadata: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("want a.txt gone, got %d chunks", len(remaining))
	}

	// The other document is untouched.
	b, err := store.GetByMetadata(context.Background(), map[string]string{MetaSource: "b.txt"})
	if err != nil {
		t.Fatalf("GetByMetadata: %v", err)
	}
	if len(b) != 1 {
		t.Errorf("want b.txt intact, got %d chunks", len(b))
	}
}

func Test_ChromemStore_DeleteByMetadata_NoMatch(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)
	seedTestChunks(t, store)

	n, err := store.DeleteByMetadata(context.Background(), map[string]string{MetaSource: "missing.txt"})
	if err != nil {
		t.Fatalf("DeleteByMetadata: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted = %d, want 0", n)
	}
}

func Test_ChromemStore_QueryNearest(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)
	seedTestChunks(t, store)

	// Query along the first axis: "alpha one" is an exact match (distance 0),
	// the mixed vector comes second.
	results, err := store.QueryNearest(context.Background(), []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("QueryNearest: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	if results[0].Text != "alpha one" {
		t.Errorf("top result = %q, want alpha one", results[0].Text)
	}
	if results[0].Distance > 1e-5 {
		t.Errorf("top distance = %v, want ~0", results[0].Distance)
	}
	if results[1].Distance <= results[0].Distance {
		t.Errorf("results not ordered closest-first: %v, %v", results[0].Distance, results[1].Distance)
	}
	if results[0].Metadata[MetaSource] != "a.txt" {
		t.Errorf("top source = %q, want a.txt", results[0].Metadata[MetaSource])
	}
}

func Test_ChromemStore_QueryNearest_ClampsToCollectionSize(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)
	seedTestChunks(t, store)

	results, err := store.QueryNearest(context.Background(), []float32{1, 0, 0}, 20)
	if err != nil {
		t.Fatalf("QueryNearest: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("want all 3 stored chunks, got %d", len(results))
	}
}

func Test_ChromemStore_QueryNearest_EmptyStore(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)

	results, err := store.QueryNearest(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("QueryNearest: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("want no results, got %d", len(results))
	}
}

func Test_ChromemStore_SourcelessDocumentsKeepSeparateEntries(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)

	// Chunks ingested without source metadata, as AddDocument permits.
	sourceless := func(docHash, text string, embedding []float32) Chunk {
		return Chunk{
			ID:   fmt.Sprintf("doc_%s_chunk_0", docHash),
			Text: text,
			Metadata: map[string]string{
				MetaDocHash: docHash,
				MetaChunkID: "chunk_0",
			},
			Embedding: embedding,
		}
	}

	err := store.AddBatch(context.Background(), []Chunk{sourceless("hashX", "first", []float32{1, 0, 0})})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	err = store.AddBatch(context.Background(), []Chunk{sourceless("hashY", "second", []float32{0, 1, 0})})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	// The second document must not displace the first's index entry: the
	// dedup lookup by doc_hash still finds each one.
	for hash, text := range map[string]string{"hashX": "first", "hashY": "second"} {
		chunks, err := store.GetByMetadata(context.Background(), map[string]string{MetaDocHash: hash})
		if err != nil {
			t.Fatalf("GetByMetadata(%s): %v", hash, err)
		}
		if len(chunks) != 1 || chunks[0].Text != text {
			t.Fatalf("lookup for %s = %+v, want the %q chunk", hash, chunks, text)
		}
	}
}

func Test_ChromemStore_Supersede(t *testing.T) {
	t.Parallel()
	store := openTestChromem(t)
	seedTestChunks(t, store)

	// Re-ingest a.txt with new content: delete then add, as the pipeline does.
	if _, err := store.DeleteByMetadata(context.Background(), map[string]string{MetaSource: "a.txt"}); err != nil {
		t.Fatalf("DeleteByMetadata: %v", err)
	}
	err := store.AddBatch(context.Background(), []Chunk{
		testChunk("hashA2", "a.txt", 0, "alpha revised", []float32{0, 0, 1}),
	})
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	chunks, err := store.GetByMetadata(context.Background(), map[string]string{MetaSource: "a.txt"})
	if err != nil {
		t.Fatalf("GetByMetadata: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Metadata[MetaDocHash] != "hashA2" {
		t.Fatalf("want single revised chunk, got %+v", chunks)
	}
}

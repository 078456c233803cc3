package ingestion

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sort"

	"github.com/quenlabs/docq/internal/rag"
)

// Fingerprint computes the stable content hash of a document: a SHA-256
// digest over the text followed by the metadata pairs sorted by key, each
// pair framed with non-printing delimiters so distinct inputs cannot collide
// by concatenation. The result is a 64-hex-char string, independent of
// metadata insertion order.
//
// The reserved chunk-level keys ("doc_hash", "chunk_id") are excluded, so
// metadata read back from the store re-hashes to the original fingerprint.
func Fingerprint(text string, metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if k == rag.MetaDocHash || k == rag.MetaChunkID {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	io.WriteString(h, text)
	for _, k := range keys {
		io.WriteString(h, "\x00")
		io.WriteString(h, k)
		io.WriteString(h, "\x01")
		io.WriteString(h, metadata[k])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ChunkDocID generates the deterministic chunk identifier for chunk i of the
// document with the given fingerprint.
func ChunkDocID(docHash string, i int) string {
	return fmt.Sprintf("doc_%s_chunk_%d", docHash, i)
}

// ChunkLabel generates the per-document sequential chunk label for chunk i.
func ChunkLabel(i int) string {
	return fmt.Sprintf("chunk_%d", i)
}

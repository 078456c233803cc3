package ingestion

import (
	"testing"
)

func Test_Fingerprint_Stable(t *testing.T) {
	t.Parallel()
	a := Fingerprint("hello", map[string]string{"source": "a.txt", "lang": "en"})
	b := Fingerprint("hello", map[string]string{"source": "a.txt", "lang": "en"})
	if a != b {
		t.Errorf("identical inputs hash differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func Test_Fingerprint_OrderIndependent(t *testing.T) {
	t.Parallel()
	// Go map iteration order is random, so build the maps in different
	// textual orders and hash repeatedly.
	m1 := map[string]string{"a": "1", "b": "2", "c": "3"}
	m2 := map[string]string{"c": "3", "a": "1", "b": "2"}
	for i := 0; i < 10; i++ {
		if Fingerprint("text", m1) != Fingerprint("text", m2) {
			t.Fatal("fingerprint depends on metadata order")
		}
	}
}

func Test_Fingerprint_SensitiveToChanges(t *testing.T) {
	t.Parallel()
	base := Fingerprint("text", map[string]string{"source": "a.txt"})
	if Fingerprint("text!", map[string]string{"source": "a.txt"}) == base {
		t.Error("text change did not change fingerprint")
	}
	if Fingerprint("text", map[string]string{"source": "b.txt"}) == base {
		t.Error("metadata value change did not change fingerprint")
	}
	if Fingerprint("text", map[string]string{"origin": "a.txt"}) == base {
		t.Error("metadata key change did not change fingerprint")
	}
}

func Test_Fingerprint_NoConcatenationCollision(t *testing.T) {
	t.Parallel()
	// Pairs whose naive concatenation would be identical.
	a := Fingerprint("ab", map[string]string{"k": "v"})
	b := Fingerprint("a", map[string]string{"bk": "v"})
	if a == b {
		t.Error("distinct (text, metadata) pairs collide")
	}
}

func Test_Fingerprint_IgnoresReservedKeys(t *testing.T) {
	t.Parallel()
	plain := Fingerprint("text", map[string]string{"source": "a.txt"})
	withReserved := Fingerprint("text", map[string]string{
		"source":   "a.txt",
		"doc_hash": "deadbeef",
		"chunk_id": "chunk_0",
	})
	if plain != withReserved {
		t.Error("reserved chunk keys must not affect the fingerprint")
	}
}

func Test_ChunkDocID(t *testing.T) {
	t.Parallel()
	if got := ChunkDocID("abc123", 4); got != "doc_abc123_chunk_4" {
		t.Errorf("ChunkDocID = %q", got)
	}
	if got := ChunkLabel(0); got != "chunk_0" {
		t.Errorf("ChunkLabel = %q", got)
	}
}

package ingestion

import (
	"context"
	"strings"
	"testing"

	"github.com/quenlabs/docq/internal/rag"
)

// cannedGenerator returns a fixed answer and records the prompt it was given.
type cannedGenerator struct {
	answer string
	prompt string
	calls  int
}

func (g *cannedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls++
	g.prompt = prompt
	return g.answer, nil
}

// Ingests through the pipeline into a real in-memory chromem store, then
// queries back through the engine: the full ingest → retrieve → answer path
// with no store fakes.
func Test_IngestThenQuery_ChromemRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := rag.NewChromemStore(&rag.ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	p, err := NewPipeline(&staticEmbedder{}, store, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	outcome, err := p.AddDocument(ctx, "The sky is blue.", map[string]string{rag.MetaSource: "s1.txt"})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if outcome.Status != StatusStored {
		t.Fatalf("status = %s, want stored", outcome.Status)
	}

	gen := &cannedGenerator{answer: "The sky is blue."}
	engine, err := rag.NewEngine(&staticEmbedder{}, store, gen, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	zero := 0.0
	ans, err := engine.Query(ctx, "What color is the sky?", &zero)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.Answer == "" {
		t.Error("want a non-empty answer")
	}
	if len(ans.Sources) != 1 || ans.Sources[0] != "s1.txt" {
		t.Errorf("sources = %v, want [s1.txt]", ans.Sources)
	}
	if !strings.Contains(gen.prompt, "The sky is blue.") {
		t.Error("generator prompt missing the ingested chunk text")
	}

	// Removal flows through the same store: a fresh query finds nothing and
	// the generator is not consulted again.
	deleted, err := p.RemoveDocument(ctx, "s1.txt")
	if err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if deleted != outcome.Chunks {
		t.Errorf("deleted = %d, want %d", deleted, outcome.Chunks)
	}
	before := gen.calls
	ans, err = engine.Query(ctx, "What color is the sky?", &zero)
	if err != nil {
		t.Fatalf("Query after removal: %v", err)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("sources after removal = %v, want none", ans.Sources)
	}
	if gen.calls != before {
		t.Errorf("generator called %d more times after removal, want 0", gen.calls-before)
	}
}

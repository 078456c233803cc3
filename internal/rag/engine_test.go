package rag

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

// fakeEmbedder returns a fixed vector per input text.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// fakeStore returns canned search results.
type fakeStore struct {
	results []SearchResult
	err     error
}

func (f *fakeStore) GetByMetadata(context.Context, map[string]string) ([]Chunk, error) {
	return nil, nil
}
func (f *fakeStore) DeleteByMetadata(context.Context, map[string]string) (int, error) {
	return 0, nil
}
func (f *fakeStore) AddBatch(context.Context, []Chunk) error { return nil }
func (f *fakeStore) QueryNearest(context.Context, []float32, int) ([]SearchResult, error) {
	return f.results, f.err
}
func (f *fakeStore) Close() error { return nil }

// fakeGenerator records the prompt it was given.
type fakeGenerator struct {
	answer string
	err    error
	calls  int
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func newTestEngine(t *testing.T, store *fakeStore, gen *fakeGenerator, cfg *EngineConfig) *Engine {
	t.Helper()
	e, err := NewEngine(&fakeEmbedder{}, store, gen, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// th is a shorthand for configuring optional threshold fields.
func th(v float64) *float64 { return &v }

func result(text, source string, distance float64) SearchResult {
	return SearchResult{
		Text:     text,
		Metadata: map[string]string{MetaSource: source},
		Distance: distance,
	}
}

func Test_Normalize_MinMax(t *testing.T) {
	t.Parallel()
	// Distances 0.1, 0.3, 0.5 → similarities 0.9, 0.7, 0.5 → norms 1.0, 0.5, 0.0.
	scored := Normalize([]SearchResult{
		result("a", "s", 0.1),
		result("b", "s", 0.3),
		result("c", "s", 0.5),
	})
	want := []float64{1.0, 0.5, 0.0}
	for i, w := range want {
		if math.Abs(scored[i].NormalizedSimilarity-w) > 1e-9 {
			t.Errorf("norm[%d] = %v, want %v", i, scored[i].NormalizedSimilarity, w)
		}
	}
}

func Test_Normalize_AllEqualTieBreak(t *testing.T) {
	t.Parallel()
	scored := Normalize([]SearchResult{
		result("a", "s", 0.2),
		result("b", "s", 0.2),
		result("c", "s", 0.2),
	})
	if scored[0].NormalizedSimilarity != 1 {
		t.Errorf("first result norm = %v, want 1", scored[0].NormalizedSimilarity)
	}
	for i := 1; i < len(scored); i++ {
		if scored[i].NormalizedSimilarity != 0 {
			t.Errorf("norm[%d] = %v, want 0", i, scored[i].NormalizedSimilarity)
		}
	}
}

func Test_Normalize_MissingSourceFallsBackToUnknown(t *testing.T) {
	t.Parallel()
	scored := Normalize([]SearchResult{{Text: "a", Distance: 0.1}})
	if scored[0].Source != "unknown" {
		t.Errorf("source = %q, want %q", scored[0].Source, "unknown")
	}
}

func Test_Query_EmptyStoreShortCircuits(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{answer: "should not be called"}
	e := newTestEngine(t, &fakeStore{}, gen, nil)

	ans, err := e.Query(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.Answer != notFoundAnswer {
		t.Errorf("answer = %q, want not-found message", ans.Answer)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("want no sources, got %v", ans.Sources)
	}
	if ans.Prompt != "" {
		t.Errorf("want empty prompt, got %q", ans.Prompt)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func Test_Query_GenerationFailureDegradesToApology(t *testing.T) {
	t.Parallel()
	store := &fakeStore{results: []SearchResult{
		result("chunk one", "doc.txt", 0.1),
		result("chunk two", "doc.txt", 0.2),
	}}
	gen := &fakeGenerator{err: errors.New("backend down")}
	e := newTestEngine(t, store, gen, nil)

	ans, err := e.Query(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.Answer != apologyAnswer {
		t.Errorf("answer = %q, want apology", ans.Answer)
	}
	if len(ans.Sources) != 1 || ans.Sources[0] != "doc.txt" {
		t.Errorf("sources = %v, want [doc.txt]", ans.Sources)
	}
	if ans.Prompt == "" {
		t.Error("want prompt preserved on generation failure")
	}
}

func Test_Query_PerSourceCap(t *testing.T) {
	t.Parallel()
	// Five chunks from one source, descending similarity, all above threshold.
	// Only three may reach the context; a second source still gets in.
	store := &fakeStore{results: []SearchResult{
		result("a1", "a.txt", 0.00),
		result("a2", "a.txt", 0.05),
		result("a3", "a.txt", 0.10),
		result("a4", "a.txt", 0.15),
		result("a5", "a.txt", 0.20),
		result("b1", "b.txt", 0.25),
	}}
	gen := &fakeGenerator{answer: "ok"}
	e := newTestEngine(t, store, gen, &EngineConfig{DefaultThreshold: th(0)})

	ans, err := e.Query(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("sources = %v, want two", ans.Sources)
	}
	for _, text := range []string{"a4", "a5"} {
		if strings.Contains(gen.prompt, text) {
			t.Errorf("prompt contains capped chunk %q", text)
		}
	}
	for _, text := range []string{"a1", "a2", "a3", "b1"} {
		if !strings.Contains(gen.prompt, text) {
			t.Errorf("prompt missing chunk %q", text)
		}
	}
}

func Test_Query_ThresholdFiltersAndClamps(t *testing.T) {
	t.Parallel()
	store := &fakeStore{results: []SearchResult{
		result("close", "a.txt", 0.1),
		result("mid", "b.txt", 0.3),
		result("far", "c.txt", 0.5),
	}}
	gen := &fakeGenerator{answer: "ok"}
	e := newTestEngine(t, store, gen, nil)

	// Out-of-range threshold clamps to MaxThreshold=1.0: only the norm-1.0
	// result survives.
	over := 5.0
	ans, err := e.Query(context.Background(), "q", &over)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(ans.Sources) != 1 || ans.Sources[0] != "a.txt" {
		t.Errorf("sources = %v, want [a.txt]", ans.Sources)
	}
	if strings.Contains(gen.prompt, "far") {
		t.Error("prompt contains filtered chunk")
	}
}

func Test_Query_NothingAboveThreshold(t *testing.T) {
	t.Parallel()
	// Only caller-supplied thresholds are clamped. A configured default above
	// 1.0 filters out every chunk, including the norm-1.0 top result.
	store := &fakeStore{results: []SearchResult{
		result("a", "a.txt", 0.1),
		result("b", "b.txt", 0.2),
	}}
	gen := &fakeGenerator{answer: "should not be called"}
	e := newTestEngine(t, store, gen, &EngineConfig{DefaultThreshold: th(1.5)})

	ans, err := e.Query(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("sources = %v, want none", ans.Sources)
	}
	if !strings.Contains(ans.Answer, "threshold") {
		t.Errorf("answer = %q, want threshold hint", ans.Answer)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func Test_Query_ZeroConfiguredDefaultIsRespected(t *testing.T) {
	t.Parallel()
	// An explicitly configured default of 0 must not fall back to 0.5:
	// with it, even the norm-0 bottom result reaches the context.
	store := &fakeStore{results: []SearchResult{
		result("top chunk", "a.txt", 0.1),
		result("bottom chunk", "b.txt", 0.9),
	}}
	gen := &fakeGenerator{answer: "ok"}
	e := newTestEngine(t, store, gen, &EngineConfig{DefaultThreshold: th(0)})

	ans, err := e.Query(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("sources = %v, want both", ans.Sources)
	}
	if !strings.Contains(gen.prompt, "bottom chunk") {
		t.Error("prompt missing the norm-0 chunk a 0.5 default would have dropped")
	}
}

func Test_Query_EmbedderFailurePropagates(t *testing.T) {
	t.Parallel()
	e, err := NewEngine(&fakeEmbedder{err: errors.New("down")}, &fakeStore{}, &fakeGenerator{}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.Query(context.Background(), "q", nil); err == nil {
		t.Fatal("want error from failing embedder")
	}
}

func Test_Query_PromptContainsContextAndSources(t *testing.T) {
	t.Parallel()
	store := &fakeStore{results: []SearchResult{
		result("alpha text", "a.txt", 0.1),
		result("beta text", "b.txt", 0.2),
	}}
	gen := &fakeGenerator{answer: "generated"}
	e := newTestEngine(t, store, gen, &EngineConfig{DefaultThreshold: th(0), Language: "English"})

	ans, err := e.Query(context.Background(), "what is alpha?", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.Answer != "generated" {
		t.Errorf("answer = %q", ans.Answer)
	}
	if !strings.Contains(gen.prompt, "alpha text"+contextSeparator+"beta text") {
		t.Error("prompt missing separator-joined context block")
	}
	if !strings.Contains(gen.prompt, "what is alpha?") {
		t.Error("prompt missing question")
	}
	if !strings.Contains(gen.prompt, "- a.txt") || !strings.Contains(gen.prompt, "- b.txt") {
		t.Error("prompt missing source list")
	}
	if !strings.Contains(gen.prompt, "English") {
		t.Error("prompt missing answer language")
	}
}

func Test_NewEngine_NilCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := NewEngine(nil, &fakeStore{}, &fakeGenerator{}, nil); err == nil {
		t.Error("want error for nil embedder")
	}
	if _, err := NewEngine(&fakeEmbedder{}, nil, &fakeGenerator{}, nil); err == nil {
		t.Error("want error for nil store")
	}
	if _, err := NewEngine(&fakeEmbedder{}, &fakeStore{}, nil, nil); err == nil {
		t.Error("want error for nil generator")
	}
}

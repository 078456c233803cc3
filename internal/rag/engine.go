package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/quenlabs/docq/internal/budget"
)

// Fixed user-facing answers returned without invoking the generator.
const (
	// notFoundAnswer is returned when the store yields no neighbors at all.
	notFoundAnswer = "Sorry, I could not find any relevant information in the documents."

	// apologyAnswer replaces the generated answer when the generator fails.
	apologyAnswer = "Sorry, I was unable to generate an answer. Please try again later."
)

// contextSeparator joins surviving chunk texts into the prompt context block.
const contextSeparator = "\n---\n"

// answerPromptTemplate is the instruction sent to the generator. The model
// must answer strictly from the supplied content and decline when the content
// is insufficient. Placeholders: context block, question, answer language,
// source list.
const answerPromptTemplate = `Answer the question using ONLY the content below.

Content:
%s

Question: %s

Answer in %s. If the content does not contain the information needed to
answer the question, state explicitly that the information is not available.
Do not use outside knowledge and do not guess.

Sources:
%s`

// EngineConfig holds the retrieval and ranking parameters.
type EngineConfig struct {
	// TopN is the number of nearest neighbors fetched per query.
	// Defaults to 20 if zero.
	TopN int

	// PerSourceCap is the maximum number of chunks one source may
	// contribute to the context block. Defaults to 3 if zero.
	PerSourceCap int

	// DefaultThreshold is the normalized-similarity cutoff used when the
	// caller does not supply one. Nil selects 0.5; a pointer to 0 is a
	// valid configured default that lets every retrieved chunk through.
	DefaultThreshold *float64

	// MinThreshold and MaxThreshold bound caller-supplied thresholds.
	// MinThreshold defaults to 0; a nil MaxThreshold selects 1.0.
	MinThreshold float64
	MaxThreshold *float64

	// Language is the language the generator is instructed to answer in.
	// Defaults to "the language of the question".
	Language string

	// MaxContextTokens optionally bounds the assembled context block using
	// a character-based token estimate. Zero disables trimming, which is
	// the default: the per-source cap is the primary context bound.
	MaxContextTokens int

	// Logger is the structured logger for query-time events.
	// If nil, slog.Default is used.
	Logger *slog.Logger
}

// Engine is the stateless query-time retrieval and ranking pipeline. Each
// Query call embeds the question, searches the store, rescales similarities,
// filters and caps the results, and asks the generator for an answer over
// the surviving context. All shared state lives in the VectorStore.
type Engine struct {
	// embedder converts the query text to a dense vector.
	embedder Embedder

	// store performs the nearest-neighbor search.
	store VectorStore

	// generator produces the final answer from the assembled prompt.
	generator Generator

	// cfg holds the resolved engine configuration.
	cfg *EngineConfig

	// log is the structured logger for this engine instance.
	log *slog.Logger
}

// ScoredChunk is a retrieved chunk with its raw and normalized similarity.
type ScoredChunk struct {
	// Text is the chunk text.
	Text string

	// Source is the originating document identifier, or "unknown" when the
	// stored chunk carries no source metadata.
	Source string

	// ChunkID is the stored per-document chunk label (e.g. "chunk_3").
	ChunkID string

	// RawSimilarity is 1 - distance, before rescaling.
	RawSimilarity float64

	// NormalizedSimilarity is the min-max rescaled similarity in [0, 1],
	// computed within this query's result batch.
	NormalizedSimilarity float64
}

// Answer is the result of one Query call.
type Answer struct {
	// Answer is the generated (or fixed fallback) answer text.
	Answer string `json:"answer"`

	// Sources lists the unique source names of the chunks that survived
	// filtering, in rank order of first appearance.
	Sources []string `json:"sources"`

	// Prompt is the full prompt sent to the generator; empty when the
	// query short-circuited before prompt assembly.
	Prompt string `json:"prompt,omitempty"`
}

// NewEngine constructs an Engine from the given collaborators and config.
func NewEngine(embedder Embedder, store VectorStore, generator Generator, cfg *EngineConfig) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("rag: generator must not be nil")
	}
	if cfg == nil {
		cfg = &EngineConfig{}
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 20
	}
	if cfg.PerSourceCap <= 0 {
		cfg.PerSourceCap = 3
	}
	if cfg.DefaultThreshold == nil {
		d := 0.5
		cfg.DefaultThreshold = &d
	}
	if cfg.MaxThreshold == nil {
		m := 1.0
		cfg.MaxThreshold = &m
	}
	if cfg.Language == "" {
		cfg.Language = "the language of the question"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		embedder:  embedder,
		store:     store,
		generator: generator,
		cfg:       cfg,
		log:       log,
	}, nil
}

// Query runs the full retrieval, ranking, and generation pipeline for the
// given question. threshold overrides the configured default when non-nil;
// it is clamped to [MinThreshold, MaxThreshold]. Generation failures degrade
// to a fixed apology — the computed sources and prompt are still returned.
func (e *Engine) Query(ctx context.Context, text string, threshold *float64) (*Answer, error) {
	effective := e.resolveThreshold(threshold)

	embeddings, err := e.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned no vector for query: %w", ErrEmbedding)
	}

	results, err := e.store.QueryNearest(ctx, embeddings[0], e.cfg.TopN)
	if err != nil {
		return nil, fmt.Errorf("rag: nearest-neighbor search: %w", err)
	}
	if len(results) == 0 {
		e.log.Info("query: no neighbors found")
		return &Answer{Answer: notFoundAnswer, Sources: []string{}}, nil
	}

	scored := Normalize(results)

	// Stable sort preserves store rank order among equal scores, which
	// fixes the tie-break: the first-returned neighbor wins ties.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].NormalizedSimilarity > scored[j].NormalizedSimilarity
	})

	surviving := capPerSource(filterByThreshold(scored, effective), e.cfg.PerSourceCap)
	if len(surviving) == 0 {
		e.log.Info("query: nothing above threshold",
			slog.Float64("threshold", effective),
			slog.Int("candidates", len(scored)),
		)
		return &Answer{
			Answer: fmt.Sprintf("No results scored above the similarity threshold %.2f. "+
				"Try lowering the threshold or rephrasing the question.", effective),
			Sources: []string{},
		}, nil
	}

	texts := make([]string, 0, len(surviving))
	for _, c := range surviving {
		texts = append(texts, c.Text)
	}
	if e.cfg.MaxContextTokens > 0 {
		kept := budget.TrimTexts(texts, budget.Estimate(answerPromptTemplate)+budget.Estimate(text), e.cfg.MaxContextTokens)
		if len(kept) < len(texts) {
			e.log.Warn("query: context trimmed to fit token budget",
				slog.Int("kept", len(kept)),
				slog.Int("dropped", len(texts)-len(kept)),
			)
			texts = kept
			surviving = surviving[:len(kept)]
		}
	}

	sources := uniqueSources(surviving)
	prompt := e.buildPrompt(strings.Join(texts, contextSeparator), text, sources)

	answer, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		// Generation failures are swallowed: the caller still gets the
		// retrieval results, with a fixed apology in place of the answer.
		e.log.Error("query: generation failed, degrading to apology", slog.Any("error", err))
		answer = apologyAnswer
	}

	e.log.Info("query: answered",
		slog.Float64("threshold", effective),
		slog.Int("chunks", len(surviving)),
		slog.Int("sources", len(sources)),
	)

	return &Answer{Answer: answer, Sources: sources, Prompt: prompt}, nil
}

// resolveThreshold returns the effective normalized-similarity cutoff:
// the caller-supplied value clamped to [MinThreshold, MaxThreshold], or the
// configured default when the caller supplied none.
func (e *Engine) resolveThreshold(threshold *float64) float64 {
	if threshold == nil {
		return *e.cfg.DefaultThreshold
	}
	t := *threshold
	if t < e.cfg.MinThreshold {
		t = e.cfg.MinThreshold
	}
	if t > *e.cfg.MaxThreshold {
		t = *e.cfg.MaxThreshold
	}
	return t
}

// Normalize converts store distances to similarities (s = 1 - d) and min-max
// rescales them within the batch so thresholds are comparable across queries
// and embedding spaces. When all similarities are equal the first result (in
// store rank order) gets 1 and the rest get 0.
func Normalize(results []SearchResult) []ScoredChunk {
	scored := make([]ScoredChunk, 0, len(results))
	minS, maxS := 0.0, 0.0
	for i, r := range results {
		s := 1 - r.Distance
		if i == 0 || s < minS {
			minS = s
		}
		if i == 0 || s > maxS {
			maxS = s
		}

		source := r.Metadata[MetaSource]
		if source == "" {
			source = "unknown"
		}
		scored = append(scored, ScoredChunk{
			Text:          r.Text,
			Source:        source,
			ChunkID:       r.Metadata[MetaChunkID],
			RawSimilarity: s,
		})
	}

	for i := range scored {
		switch {
		case maxS > minS:
			scored[i].NormalizedSimilarity = (scored[i].RawSimilarity - minS) / (maxS - minS)
		case i == 0:
			scored[i].NormalizedSimilarity = 1
		default:
			scored[i].NormalizedSimilarity = 0
		}
	}

	return scored
}

// filterByThreshold keeps chunks whose normalized similarity is >= threshold.
func filterByThreshold(chunks []ScoredChunk, threshold float64) []ScoredChunk {
	out := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.NormalizedSimilarity >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// capPerSource keeps at most cap chunks per source, in the given (already
// sorted) rank order, so no single document dominates the context window.
func capPerSource(chunks []ScoredChunk, cap int) []ScoredChunk {
	counts := make(map[string]int, len(chunks))
	out := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if counts[c.Source] >= cap {
			continue
		}
		counts[c.Source]++
		out = append(out, c)
	}
	return out
}

// uniqueSources returns the distinct source names of chunks in first-seen order.
func uniqueSources(chunks []ScoredChunk) []string {
	seen := make(map[string]bool, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if !seen[c.Source] {
			seen[c.Source] = true
			out = append(out, c.Source)
		}
	}
	return out
}

// buildPrompt assembles the final generator prompt from the context block,
// question, and source list.
func (e *Engine) buildPrompt(contextBlock, question string, sources []string) string {
	lines := make([]string, 0, len(sources))
	for _, s := range sources {
		lines = append(lines, "- "+s)
	}
	return fmt.Sprintf(answerPromptTemplate, contextBlock, question, e.cfg.Language, strings.Join(lines, "\n"))
}

// Package chunker splits raw document text into overlapping segments using a
// priority-ordered separator list. Splitting recurses from coarse separators
// (paragraph breaks) down to fine ones (clause punctuation, spaces, single
// characters) until every piece fits the configured chunk size, then merges
// adjacent pieces back together with overlap. Lengths are counted in runes so
// CJK text budgets the same as ASCII.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators is the split priority: paragraph break, line break,
// sentence-ending punctuation (fullwidth then ASCII), clause punctuation,
// space, and finally individual characters.
var DefaultSeparators = []string{
	"\n\n", "\n",
	"。", "！", "？", ".",
	"；", ";", "，", ",",
	" ", "",
}

const (
	// DefaultChunkSize is the maximum chunk length in runes.
	DefaultChunkSize = 300

	// DefaultChunkOverlap is the target rune overlap between consecutive chunks.
	DefaultChunkOverlap = 100
)

// Config holds the splitter parameters.
type Config struct {
	// ChunkSize is the maximum chunk length in runes (default 300).
	ChunkSize int

	// ChunkOverlap is the target overlap between consecutive chunks in
	// runes (default 100). Must be smaller than ChunkSize.
	ChunkOverlap int

	// Separators is the split priority list, coarsest first. The empty
	// string means per-character splitting and should come last.
	// Defaults to DefaultSeparators.
	Separators []string

	// KeepSeparator retains the splitting delimiter in the emitted pieces,
	// attached to the start of the following piece (default true via New).
	KeepSeparator bool
}

// Splitter performs recursive character splitting. It is stateless after
// construction and safe for concurrent use.
type Splitter struct {
	cfg Config
}

// New constructs a Splitter, applying defaults for zero-valued fields.
// KeepSeparator defaults to true.
func New(cfg Config) *Splitter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 2
	}
	if len(cfg.Separators) == 0 {
		cfg.Separators = DefaultSeparators
		cfg.KeepSeparator = true
	}
	return &Splitter{cfg: cfg}
}

// Split divides text into chunks of at most ChunkSize runes. The result is
// deterministic for a given input and config. Whitespace-only text yields no
// chunks; callers treat an empty result as "nothing to ingest".
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.cfg.Separators)
}

// split recursively breaks text on the first listed separator present in it,
// descending to finer separators for pieces that are still too large.
func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	splits := splitWithSeparator(text, separator, s.cfg.KeepSeparator)

	// When the separator is kept inside the pieces it must not be re-added
	// while merging.
	mergeSep := separator
	if s.cfg.KeepSeparator {
		mergeSep = ""
	}

	var chunks []string
	var good []string
	for _, piece := range splits {
		if runeLen(piece) < s.cfg.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good, mergeSep)...)
			good = nil
		}
		if len(next) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, next)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good, mergeSep)...)
	}
	return chunks
}

// merge greedily joins small pieces into chunks up to ChunkSize, carrying a
// tail of pieces up to ChunkOverlap runes into the next chunk.
func (s *Splitter) merge(splits []string, separator string) []string {
	sepLen := runeLen(separator)

	var docs []string
	var current []string
	total := 0
	for _, piece := range splits {
		n := runeLen(piece)
		if total+n+extra(sepLen, len(current) > 0) > s.cfg.ChunkSize && len(current) > 0 {
			if doc := joinDocs(current, separator); doc != "" {
				docs = append(docs, doc)
			}
			// Slide the window: drop leading pieces until the carried tail
			// fits the overlap budget and leaves room for the next piece.
			for total > s.cfg.ChunkOverlap ||
				(total+n+extra(sepLen, len(current) > 0) > s.cfg.ChunkSize && total > 0) {
				total -= runeLen(current[0]) + extra(sepLen, len(current) > 1)
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n + extra(sepLen, len(current) > 1)
	}
	if doc := joinDocs(current, separator); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitWithSeparator splits text on sep. With keep=true the separator stays
// attached to the start of the following piece, so sentence punctuation is
// never lost. An empty sep splits into individual runes. Empty pieces are
// dropped.
func splitWithSeparator(text, sep string, keep bool) []string {
	var parts []string
	if sep == "" {
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}

	raw := strings.Split(text, sep)
	parts = make([]string, 0, len(raw))
	for i, p := range raw {
		if keep && i > 0 {
			p = sep + p
		}
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// joinDocs joins pieces and trims surrounding whitespace.
func joinDocs(docs []string, separator string) string {
	return strings.TrimSpace(strings.Join(docs, separator))
}

// extra returns sepLen when cond holds, otherwise 0.
func extra(sepLen int, cond bool) int {
	if cond {
		return sepLen
	}
	return 0
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

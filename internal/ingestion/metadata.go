package ingestion

import (
	"path/filepath"
	"strings"
)

// InferredMetadata holds the format and title inferred from an uploaded
// file's name. Caller-supplied metadata takes precedence over inferred
// values; this is the best-effort fallback when an upload carries nothing
// but a filename.
type InferredMetadata struct {
	// Format classifies the document by extension (markdown, pdf, text,
	// html, spreadsheet, data, unknown).
	Format string

	// Title is a human-readable title derived from the base filename.
	Title string
}

// formatByExtension maps lowercase file extensions to a canonical format label.
var formatByExtension = map[string]string{
	".md":       "markdown",
	".markdown": "markdown",
	".txt":      "text",
	".text":     "text",
	".pdf":      "pdf",
	".html":     "html",
	".htm":      "html",
	".csv":      "data",
	".json":     "data",
	".xlsx":     "spreadsheet",
	".xls":      "spreadsheet",
}

// InferMetadata inspects an uploaded filename and returns best-effort
// metadata. Unrecognized extensions yield Format "unknown"; the title falls
// back to the bare filename.
func InferMetadata(filename string) InferredMetadata {
	base := filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(base))

	m := InferredMetadata{Format: "unknown"}
	if f, ok := formatByExtension[ext]; ok {
		m.Format = f
	}

	title := strings.TrimSuffix(base, filepath.Ext(base))
	title = strings.NewReplacer("_", " ", "-", " ").Replace(title)
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		title = base
	}
	m.Title = title

	return m
}

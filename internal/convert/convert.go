// Package convert extracts tables from uploaded images and PDFs using a
// multimodal Gemini model and exports them to JSON, CSV and Excel files.
//
// Model output is treated as untrusted: responses are parsed tolerantly,
// stripping markdown fences and extracting the first JSON array found.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"google.golang.org/genai"
)

// DefaultMaxPDFPages caps how many pages an uploaded PDF may have. Larger
// documents are rejected before any model call is made.
const DefaultMaxPDFPages = 5

// DefaultModel is the multimodal model used for extraction.
const DefaultModel = "gemini-1.5-pro"

// ErrPageLimit is returned when a PDF exceeds the configured page limit.
var ErrPageLimit = errors.New("convert: pdf exceeds page limit")

// ErrUnsupportedFile is returned for uploads that are neither an image nor a PDF.
var ErrUnsupportedFile = errors.New("convert: unsupported file type")

// imagePrompt asks the model to turn a single table image into JSON rows.
const imagePrompt = `Analyze the table in the provided image and convert it to JSON.
Use the table's header row as the keys of each object. If a cell enumerates
items (e.g. "(1)", "(2)"), split them into separate objects and keep the
numbering. Return ONLY the JSON data, with no surrounding text.`

// pdfPrompt asks the model to extract every table across the PDF's pages.
const pdfPrompt = `Analyze the tables in the provided PDF pages and convert them to JSON.

Instructions:
1. If a table spans multiple pages, merge it into one complete table.
2. If there are several distinct tables, emit one entry per table.
3. Return a JSON array of table objects. Each object must contain:
   - "table_id": a unique identifier for the table
   - "data": an array of row objects keyed by column header

Return ONLY the JSON data, with no surrounding text.`

// Table is one extracted table: an identifier plus its rows.
type Table struct {
	// ID distinguishes tables when a document contains more than one.
	ID string `json:"table_id"`
	// Data holds the rows, keyed by column header.
	Data []map[string]any `json:"data"`
}

// Exported describes the files written for one extracted table.
type Exported struct {
	// TableID is the identifier assigned by the model (or synthesized).
	TableID string `json:"table_id"`
	// JSON, CSV and Excel are paths of the written files, relative to the
	// output directory.
	JSON  string `json:"json"`
	CSV   string `json:"csv"`
	Excel string `json:"excel"`
	// Data echoes the extracted rows so API clients need not re-read files.
	Data []map[string]any `json:"data"`
}

// Result is the outcome of converting one uploaded file.
type Result struct {
	// Tables lists every table found in the upload.
	Tables []Exported `json:"tables"`
}

// Vision is the multimodal model call behind table extraction.
type Vision interface {
	// Extract sends the prompt and attachments to the model and returns
	// its raw text response.
	Extract(ctx context.Context, prompt string, attachments []Attachment) (string, error)
}

// Attachment is a binary payload sent alongside the prompt.
type Attachment struct {
	// MIMEType identifies the payload (image/png, application/pdf, ...).
	MIMEType string
	// Data is the raw file content.
	Data []byte
}

// Config tunes a Converter.
type Config struct {
	// OutputDir is where exported files are written.
	OutputDir string
	// MaxPDFPages caps uploaded PDF size. Zero means DefaultMaxPDFPages.
	MaxPDFPages int
	// Logger receives progress logs. Nil means slog.Default.
	Logger *slog.Logger
}

// Converter runs the extract-and-export flow for uploads.
type Converter struct {
	vision   Vision
	outDir   string
	maxPages int
	log      *slog.Logger
}

// New constructs a Converter over the given vision model.
func New(v Vision, cfg Config) (*Converter, error) {
	if v == nil {
		return nil, fmt.Errorf("convert: vision model must not be nil")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("convert: output directory must not be empty")
	}
	maxPages := cfg.MaxPDFPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPDFPages
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Converter{vision: v, outDir: cfg.OutputDir, maxPages: maxPages, log: log}, nil
}

// mimeByExtension maps supported upload extensions to MIME types.
var mimeByExtension = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
}

// Convert extracts tables from the uploaded file and writes JSON/CSV/Excel
// exports for each. filename is used for type detection and output naming.
func (c *Converter) Convert(ctx context.Context, filename string, data []byte) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	mimeType, ok := mimeByExtension[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}

	var (
		tables []Table
		err    error
	)
	if mimeType == "application/pdf" {
		tables, err = c.convertPDF(ctx, data)
	} else {
		tables, err = c.convertImage(ctx, mimeType, data)
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(c.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("convert: failed to create output directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(filename), ext)
	result := &Result{}
	for i, tbl := range tables {
		id := tbl.ID
		if id == "" {
			id = fmt.Sprintf("table_%d", i+1)
		}
		exp, err := exportTable(c.outDir, base+"_"+id, tbl.Data)
		if err != nil {
			return nil, err
		}
		exp.TableID = id
		result.Tables = append(result.Tables, exp)
	}

	c.log.Info("convert: file converted",
		slog.String("file", filepath.Base(filename)),
		slog.Int("tables", len(result.Tables)),
	)
	return result, nil
}

// convertImage extracts a single table from an image upload.
func (c *Converter) convertImage(ctx context.Context, mimeType string, data []byte) ([]Table, error) {
	raw, err := c.vision.Extract(ctx, imagePrompt, []Attachment{{MIMEType: mimeType, Data: data}})
	if err != nil {
		return nil, fmt.Errorf("convert: model call failed: %w", err)
	}
	return ParseTables(raw)
}

// convertPDF checks the page limit, then extracts every table in the document.
func (c *Converter) convertPDF(ctx context.Context, data []byte) ([]Table, error) {
	pages, err := countPDFPages(data)
	if err != nil {
		return nil, fmt.Errorf("convert: failed to read pdf: %w", err)
	}
	if pages > c.maxPages {
		return nil, fmt.Errorf("%w: %d pages (max %d)", ErrPageLimit, pages, c.maxPages)
	}

	raw, err := c.vision.Extract(ctx, pdfPrompt, []Attachment{{MIMEType: "application/pdf", Data: data}})
	if err != nil {
		return nil, fmt.Errorf("convert: model call failed: %w", err)
	}
	return ParseTables(raw)
}

// countPDFPages returns the number of pages in a PDF document.
func countPDFPages(data []byte) (int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

// ParseTables parses a model response into tables. It tries strict JSON
// first, then strips markdown fences and extracts the first JSON array.
// A bare array of row objects becomes a single unnamed table.
func ParseTables(raw string) ([]Table, error) {
	candidates := []string{raw, cleanFences(raw)}
	for _, s := range candidates {
		if tables, ok := tryParse(s); ok {
			return tables, nil
		}
	}
	return nil, fmt.Errorf("convert: model response is not valid JSON: %.200s", raw)
}

// tryParse attempts to decode s as either a table list or a bare row list.
func tryParse(s string) ([]Table, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}

	var tables []Table
	if err := json.Unmarshal([]byte(s), &tables); err == nil && len(tables) > 0 && tables[0].Data != nil {
		return tables, true
	}

	var rows []map[string]any
	if err := json.Unmarshal([]byte(s), &rows); err == nil && len(rows) > 0 {
		return []Table{{Data: rows}}, true
	}

	var row map[string]any
	if err := json.Unmarshal([]byte(s), &row); err == nil && len(row) > 0 {
		return []Table{{Data: []map[string]any{row}}}, true
	}

	return nil, false
}

// cleanFences strips markdown code fences and isolates the outermost JSON
// array or object in the response.
func cleanFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(strings.TrimPrefix(s, "json"))

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '[' {
		end = strings.LastIndex(s, "]")
	} else {
		end = strings.LastIndex(s, "}")
	}
	if end <= start {
		return s
	}
	return s[start : end+1]
}

// GeminiVision is the production Vision backed by the Gemini API.
type GeminiVision struct {
	client *genai.Client
	model  string
}

// NewGeminiVision constructs a GeminiVision using GOOGLE_API_KEY.
// model falls back to DefaultModel when empty.
func NewGeminiVision(ctx context.Context, model string) (*GeminiVision, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("convert: GOOGLE_API_KEY environment variable is not set")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("convert: failed to create gemini client: %w", err)
	}
	return &GeminiVision{client: client, model: model}, nil
}

// Extract sends the prompt plus attachments to the model in a single turn.
func (g *GeminiVision) Extract(ctx context.Context, prompt string, attachments []Attachment) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	for _, a := range attachments {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}
	content := genai.NewContentFromParts(parts, genai.RoleUser)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{content}, nil)
	if err != nil {
		return "", fmt.Errorf("convert: gemini request failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("convert: gemini returned an empty response")
	}
	return text, nil
}

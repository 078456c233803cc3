package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/quenlabs/docq/internal/convert"
	"github.com/quenlabs/docq/internal/ingestion"
	"github.com/quenlabs/docq/internal/rag"
	"github.com/quenlabs/docq/internal/registry"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
}

// querier answers questions over the ingested corpus.
// *rag.Engine satisfies it; tests inject a fake.
type querier interface {
	Query(ctx context.Context, text string, threshold *float64) (*rag.Answer, error)
}

// ingestor adds and removes documents.
// *ingestion.Pipeline satisfies it; tests inject a fake.
type ingestor interface {
	AddDocument(ctx context.Context, text string, metadata map[string]string) (*ingestion.Outcome, error)
	RemoveDocument(ctx context.Context, source string) (int, error)
}

// tableConverter extracts tables from uploaded images and PDFs.
// *convert.Converter satisfies it; tests inject a fake.
type tableConverter interface {
	Convert(ctx context.Context, filename string, data []byte) (*convert.Result, error)
}

// catalog records and lists ingestion events.
// *registry.Registry satisfies it; tests inject a fake.
type catalog interface {
	Record(ctx context.Context, rec registry.Record) error
	Documents(ctx context.Context) ([]registry.Record, error)
}

// Deps bundles the collaborators the server routes requests to.
// Converter and Registry are optional; their routes degrade gracefully
// when absent.
type Deps struct {
	// Engine answers POST /api/query.
	Engine querier
	// Pipeline serves document ingestion and removal.
	Pipeline ingestor
	// Converter serves POST /api/convert. Nil disables the route.
	Converter tableConverter
	// Registry records ingestion events and serves GET /api/documents.
	// Nil disables event recording and the listing route.
	Registry catalog
}

// Server is the HTTP server that exposes the document-QA service.
type Server struct {
	// deps holds the wired collaborators.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// Threshold optionally overrides the configured similarity cutoff.
	// Out-of-range values are clamped server-side.
	Threshold *float64 `json:"threshold,omitempty"`
}

// uploadRequest is the JSON body for POST /api/documents when the client
// sends text directly instead of a multipart file.
type uploadRequest struct {
	// Source is the logical document identifier (usually a filename).
	Source string `json:"source"`
	// Text is the full document text.
	Text string `json:"text"`
	// Metadata is optional extra metadata stored with every chunk.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// documentInfo is one entry in the GET /api/documents response.
type documentInfo struct {
	// Source is the logical document identifier.
	Source string `json:"source"`
	// DocHash is the fingerprint of the current version.
	DocHash string `json:"doc_hash"`
	// Chunks is the number of chunks stored for this version.
	Chunks int `json:"chunks"`
	// IngestedAt is when the current version was stored.
	IngestedAt time.Time `json:"ingested_at"`
}

// documentsResponse is the JSON body for GET /api/documents.
type documentsResponse struct {
	// Documents lists the currently ingested sources.
	Documents []documentInfo `json:"documents"`
}

// deleteResponse is the JSON body for DELETE /api/documents/{source}.
type deleteResponse struct {
	// Source is the document that was removed.
	Source string `json:"source"`
	// Deleted is the number of chunks removed from the store.
	Deleted int `json:"deleted"`
}

// errorResponse is the JSON body for error statuses.
type errorResponse struct {
	// Error is a human-readable description of the failure.
	Error string `json:"error"`
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quenlabs/docq/internal/convert"
	"github.com/quenlabs/docq/internal/ingestion"
	"github.com/quenlabs/docq/internal/logging"
	"github.com/quenlabs/docq/internal/rag"
	"github.com/quenlabs/docq/internal/registry"
)

// maxUploadBytes caps document and convert uploads.
const maxUploadBytes = 32 << 20 // 32 MiB

// handleQuery handles POST /api/query: embed the question, retrieve and
// rank context, generate an answer.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := s.deps.Engine.Query(r.Context(), req.Question, req.Threshold)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		log.Error("query failed", slog.Any("error", err))
		writeError(w, upstreamStatus(err), "query failed: "+err.Error())
		return
	}

	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, answer)
}

// handleUpload handles POST /api/documents. It accepts either a multipart
// form with a "file" field or a JSON body with source and text.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	source, text, metadata, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata[rag.MetaSource] = source
	inferred := ingestion.InferMetadata(source)
	if _, ok := metadata["format"]; !ok && inferred.Format != "" {
		metadata["format"] = inferred.Format
	}
	if _, ok := metadata["title"]; !ok && inferred.Title != "" {
		metadata["title"] = inferred.Title
	}

	outcome, err := s.deps.Pipeline.AddDocument(r.Context(), text, metadata)
	if err != nil {
		s.metrics.ingestTotal.WithLabelValues("error").Inc()
		log.Error("ingestion failed", slog.String("source", source), slog.Any("error", err))
		writeError(w, upstreamStatus(err), "ingestion failed: "+err.Error())
		return
	}

	s.metrics.ingestTotal.WithLabelValues(string(outcome.Status)).Inc()
	s.recordEvent(r, registry.Record{
		Source:  source,
		DocHash: outcome.DocHash,
		Event:   ingestEvent(outcome),
		Reason:  outcome.Reason,
		Chunks:  outcome.Chunks,
	})

	status := http.StatusCreated
	if outcome.Status == ingestion.StatusSkipped {
		status = http.StatusOK
	}
	writeJSON(w, status, outcome)
}

// readUpload extracts source, text and metadata from either upload form.
func readUpload(r *http.Request) (string, string, map[string]string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", "", nil, errors.New("multipart upload requires a 'file' field")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return "", "", nil, errors.New("failed to read uploaded file")
		}
		source := r.FormValue("source")
		if source == "" {
			source = header.Filename
		}
		return source, string(data), nil, nil
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", "", nil, errors.New("invalid request body")
	}
	if req.Source == "" {
		return "", "", nil, errors.New("source is required")
	}
	if req.Text == "" {
		return "", "", nil, errors.New("text is required")
	}
	return req.Source, req.Text, req.Metadata, nil
}

// handleListDocuments handles GET /api/documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		writeError(w, http.StatusServiceUnavailable, "document registry is disabled")
		return
	}

	records, err := s.deps.Registry.Documents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents: "+err.Error())
		return
	}

	resp := documentsResponse{Documents: []documentInfo{}}
	for _, rec := range records {
		resp.Documents = append(resp.Documents, documentInfo{
			Source:     rec.Source,
			DocHash:    rec.DocHash,
			Chunks:     rec.Chunks,
			IngestedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteDocument handles DELETE /api/documents/{source}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	source := r.PathValue("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	deleted, err := s.deps.Pipeline.RemoveDocument(r.Context(), source)
	if err != nil {
		log.Error("removal failed", slog.String("source", source), slog.Any("error", err))
		writeError(w, upstreamStatus(err), "removal failed: "+err.Error())
		return
	}

	s.recordEvent(r, registry.Record{
		Source: source,
		Event:  registry.EventRemoved,
		Chunks: deleted,
	})

	if deleted == 0 {
		writeError(w, http.StatusNotFound, "no chunks stored for source "+source)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Source: source, Deleted: deleted})
}

// handleConvert handles POST /api/convert: extract tables from an uploaded
// image or PDF and export them to JSON/CSV/Excel.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.deps.Converter == nil {
		writeError(w, http.StatusServiceUnavailable, "table conversion is disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart upload requires a 'file' field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	result, err := s.deps.Converter.Convert(r.Context(), header.Filename, data)
	if err != nil {
		outcome := "error"
		status := http.StatusInternalServerError
		if errors.Is(err, convert.ErrUnsupportedFile) || errors.Is(err, convert.ErrPageLimit) {
			outcome = "rejected"
			status = http.StatusBadRequest
		}
		s.metrics.convertTotal.WithLabelValues(outcome).Inc()
		log.Error("conversion failed", slog.String("file", header.Filename), slog.Any("error", err))
		writeError(w, status, "conversion failed: "+err.Error())
		return
	}

	s.metrics.convertTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, result)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recordEvent writes an ingestion event to the registry if one is wired.
// Registry failures are logged, never surfaced to the client.
func (s *Server) recordEvent(r *http.Request, rec registry.Record) {
	if s.deps.Registry == nil {
		return
	}
	if err := s.deps.Registry.Record(r.Context(), rec); err != nil {
		logging.FromContext(r.Context()).Warn("failed to record ingestion event",
			slog.String("source", rec.Source),
			slog.Any("error", err),
		)
	}
}

// ingestEvent maps a pipeline outcome to its registry event.
func ingestEvent(o *ingestion.Outcome) registry.Event {
	if o.Status == ingestion.StatusStored {
		return registry.EventStored
	}
	return registry.EventSkipped
}

// upstreamStatus maps collaborator failures to HTTP statuses: failures of
// external dependencies surface as 502, everything else as 500.
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, rag.ErrEmbedding),
		errors.Is(err, rag.ErrStore),
		errors.Is(err, rag.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("response encode error", slog.Any("error", err))
	}
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

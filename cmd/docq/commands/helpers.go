package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/quenlabs/docq/internal/embedder"
	"github.com/quenlabs/docq/internal/ingestion"
	"github.com/quenlabs/docq/internal/rag"
	"github.com/quenlabs/docq/internal/registry"
)

// getEnvOrDefault returns the env var value or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat returns the env var parsed as float64, or fallback when unset
// or invalid.
func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvFloatPtr returns a pointer to the env var parsed as float64, or nil
// when unset or invalid. Unlike getEnvFloat it keeps an explicit 0
// distinguishable from an absent variable.
func getEnvFloatPtr(key string) *float64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

// buildStore opens the vector store selected by DOCQ_STORE: "chromem"
// (embedded, the default) or "qdrant".
func buildStore(ctx context.Context, log *slog.Logger) (rag.VectorStore, error) {
	backend := getEnvOrDefault("DOCQ_STORE", "chromem")
	collection := getEnvOrDefault("DOCQ_COLLECTION", "documents")

	switch backend {
	case "chromem":
		path := os.Getenv("CHROMEM_PATH")
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not resolve home directory for chromem store: %w", err)
			}
			path = filepath.Join(home, ".docq", "chromem")
		}
		store, err := rag.NewChromemStore(&rag.ChromemConfig{
			Path:       path,
			Collection: collection,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem store at %s: %w", path, err)
		}
		log.Info("chromem store ready", slog.String("path", path), slog.String("collection", collection))
		return store, nil

	case "qdrant":
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		embBackend := embedder.ResolveBackend()
		vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

		store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: collection,
			VectorSize: vectorSize,
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		log.Info("qdrant store ready", slog.String("host", host), slog.Int("port", port), slog.String("collection", collection))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown DOCQ_STORE %q (expected chromem or qdrant)", backend)
	}
}

// engineConfigFromEnv assembles the retrieval engine configuration from the
// RETRIEVAL_* and SIMILARITY_* environment variables.
func engineConfigFromEnv(log *slog.Logger) *rag.EngineConfig {
	return &rag.EngineConfig{
		TopN:             getEnvInt("RETRIEVAL_TOP_N", 0),
		PerSourceCap:     getEnvInt("RETRIEVAL_PER_SOURCE_CAP", 0),
		DefaultThreshold: getEnvFloatPtr("SIMILARITY_THRESHOLD"),
		MinThreshold:     getEnvFloat("SIMILARITY_MIN_THRESHOLD", 0),
		MaxThreshold:     getEnvFloatPtr("SIMILARITY_MAX_THRESHOLD"),
		Language:         os.Getenv("ANSWER_LANGUAGE"),
		MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 0),
		Logger:           log,
	}
}

// pipelineConfigFromEnv assembles the ingestion pipeline configuration from
// the CHUNK_* environment variables.
func pipelineConfigFromEnv(log *slog.Logger) *ingestion.Config {
	return &ingestion.Config{
		ChunkSize:    getEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 0),
		Logger:       log,
	}
}

// openRegistry opens the ingestion registry. DOCQ_REGISTRY_DB overrides the
// default path (~/.docq/registry.db); set to "disabled" to turn it off.
// Returns nil when the registry is disabled or fails to open — callers treat
// a nil registry as "no event recording".
func openRegistry(log *slog.Logger) *registry.Registry {
	dbPath := os.Getenv("DOCQ_REGISTRY_DB")
	if dbPath == "disabled" {
		log.Info("registry: disabled via DOCQ_REGISTRY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = registry.DefaultDBPath()
		if err != nil {
			log.Warn("registry: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	reg, err := registry.Open(dbPath)
	if err != nil {
		log.Warn("registry: failed to open, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("registry: opened", slog.String("path", dbPath))
	return reg
}

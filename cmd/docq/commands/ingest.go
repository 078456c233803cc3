package commands

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quenlabs/docq/internal/embedder"
	"github.com/quenlabs/docq/internal/ingestion"
	"github.com/quenlabs/docq/internal/logging"
	"github.com/quenlabs/docq/internal/rag"
	"github.com/quenlabs/docq/internal/registry"
)

// ingestibleExtensions lists file types read as plain text during ingestion.
var ingestibleExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".text":     true,
	".csv":      true,
	".json":     true,
	".html":     true,
	".htm":      true,
}

// NewIngestCmd constructs the `docq ingest` command, which chunks, embeds
// and stores local files so questions can be answered over them.
func NewIngestCmd() *cobra.Command {
	var metaPairs []string

	cmd := &cobra.Command{
		Use:   "ingest [files or directories...]",
		Short: "Ingest documents into the vector store",
		Long: `Chunk, embed and store local documents so 'docq ask' and the HTTP API
can answer questions over them.

Directories are walked recursively; only text-like files (.md, .txt, .csv,
.json, .html) are ingested. Re-ingesting an unchanged file is a no-op;
re-ingesting a changed file replaces the previous version atomically per
source.

Key environment variables:
  DOCQ_STORE           Vector store backend: chromem (default) or qdrant
  CHROMEM_PATH         chromem persistence directory (default: ~/.docq/chromem)
  QDRANT_HOST/PORT     Qdrant connection (qdrant backend only)
  EMBEDDING_PROVIDER   Embedding backend: ollama (default), openai, azure, gemini
  CHUNK_SIZE/OVERLAP   Splitter tuning (defaults: 300/100 runes)

Examples:
  docq ingest ./docs
  docq ingest README.md notes/meeting.txt
  docq ingest --meta team=platform ./runbooks`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}

			store, err := buildStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer store.Close()

			pipeline, err := ingestion.NewPipeline(emb, store, pipelineConfigFromEnv(log))
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			reg := openRegistry(log)
			if reg != nil {
				defer reg.Close()
			}

			extraMeta, err := parseMetaPairs(metaPairs)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			files, err := collectFiles(args)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if len(files) == 0 {
				return fmt.Errorf("ingest: no ingestible files found")
			}

			log.Info("starting ingestion", slog.Int("files", len(files)))

			var stored, skipped, failed int
			for _, path := range files {
				outcome, err := ingestFile(ctx, pipeline, reg, path, extraMeta)
				if err != nil {
					failed++
					log.Error("ingestion failed", slog.String("file", path), slog.Any("error", err))
					fmt.Fprintf(os.Stderr, "FAIL  %s: %v\n", path, err)
					continue
				}
				switch outcome.Status {
				case ingestion.StatusStored:
					stored++
					fmt.Printf("OK    %s (%d chunks", path, outcome.Chunks)
					if outcome.Superseded > 0 {
						fmt.Printf(", replaced %d", outcome.Superseded)
					}
					fmt.Println(")")
				case ingestion.StatusSkipped:
					skipped++
					fmt.Printf("SKIP  %s (%s)\n", path, outcome.Reason)
				}
			}

			fmt.Printf("\ningested %d, skipped %d, failed %d\n", stored, skipped, failed)
			if failed > 0 {
				return fmt.Errorf("ingest: %d file(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&metaPairs, "meta", "m", nil, "Extra metadata as key=value (repeatable)")

	return cmd
}

// ingestFile reads one file, runs it through the pipeline, and records the
// outcome in the registry when one is open.
func ingestFile(ctx context.Context, pipeline *ingestion.Pipeline, reg *registry.Registry, path string, extraMeta map[string]string) (*ingestion.Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	source := filepath.Base(path)
	metadata := map[string]string{rag.MetaSource: source}
	for k, v := range extraMeta {
		metadata[k] = v
	}
	inferred := ingestion.InferMetadata(source)
	if inferred.Format != "" {
		metadata["format"] = inferred.Format
	}
	if inferred.Title != "" {
		metadata["title"] = inferred.Title
	}

	outcome, err := pipeline.AddDocument(ctx, string(data), metadata)
	if err != nil {
		return nil, err
	}

	if reg != nil {
		event := registry.EventSkipped
		if outcome.Status == ingestion.StatusStored {
			event = registry.EventStored
		}
		if err := reg.Record(ctx, registry.Record{
			Source:  source,
			DocHash: outcome.DocHash,
			Event:   event,
			Reason:  outcome.Reason,
			Chunks:  outcome.Chunks,
		}); err != nil {
			logging.FromContext(ctx).Warn("failed to record ingestion event",
				slog.String("source", source), slog.Any("error", err))
		}
	}

	return outcome, nil
}

// collectFiles expands the argument list into ingestible file paths,
// walking directories recursively.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ingestibleExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", arg, err)
		}
	}
	return files, nil
}

// parseMetaPairs converts repeated key=value flags into a metadata map.
func parseMetaPairs(pairs []string) (map[string]string, error) {
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q (expected key=value)", pair)
		}
		meta[k] = v
	}
	return meta, nil
}

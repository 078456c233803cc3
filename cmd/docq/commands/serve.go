package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/quenlabs/docq/internal/convert"
	"github.com/quenlabs/docq/internal/embedder"
	"github.com/quenlabs/docq/internal/generator"
	"github.com/quenlabs/docq/internal/ingestion"
	"github.com/quenlabs/docq/internal/logging"
	"github.com/quenlabs/docq/internal/provider"
	"github.com/quenlabs/docq/internal/rag"
	"github.com/quenlabs/docq/internal/server"
	"github.com/quenlabs/docq/internal/tracing"
)

// NewServeCmd constructs the `docq serve` command, which starts the HTTP
// API for querying, ingestion and table conversion.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docq HTTP server",
		Long: `Start the docq HTTP server on localhost.

The server exposes a REST API: POST /api/query answers questions,
POST /api/documents ingests uploads, DELETE /api/documents/{source}
removes them, POST /api/convert extracts tables from images and PDFs,
and GET /metrics serves Prometheus metrics.

Set DOCQ_API_KEY to require Bearer authentication on the /api routes.

Examples:
  docq serve
  docq serve --port 9090
  MODEL_PROVIDER=azure docq serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			store, err := buildStore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer store.Close()

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			gen, err := generator.New(chatModel)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			engine, err := rag.NewEngine(emb, store, gen, engineConfigFromEnv(log))
			if err != nil {
				return fmt.Errorf("serve: failed to create engine: %w", err)
			}

			pipeline, err := ingestion.NewPipeline(emb, store, pipelineConfigFromEnv(log))
			if err != nil {
				return fmt.Errorf("serve: failed to create pipeline: %w", err)
			}

			deps := server.Deps{
				Engine:   engine,
				Pipeline: pipeline,
			}

			// Table conversion needs a Gemini key; the route is disabled
			// without one.
			if os.Getenv("GOOGLE_API_KEY") != "" {
				vision, err := convert.NewGeminiVision(ctx, os.Getenv("CONVERT_MODEL"))
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				conv, err := convert.New(vision, convert.Config{
					OutputDir:   convertOutputDir(),
					MaxPDFPages: getEnvInt("CONVERT_MAX_PDF_PAGES", 0),
					Logger:      log,
				})
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				deps.Converter = conv
			} else {
				log.Info("table conversion disabled", slog.String("reason", "GOOGLE_API_KEY not set"))
			}

			reg := openRegistry(log)
			if reg != nil {
				defer reg.Close()
				deps.Registry = reg
			}

			pingers := []server.Pinger{server.NewEmbedderPinger(emb)}
			if p, ok := store.(server.Pinger); ok {
				pingers = append(pingers, p)
			}

			srv, err := server.New(deps, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("DOCQ_API_KEY"),
			}, nil)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}

// convertOutputDir resolves the directory table exports are written to.
func convertOutputDir() string {
	if dir := os.Getenv("CONVERT_OUTPUT_DIR"); dir != "" {
		return dir
	}
	return filepath.Join("output")
}

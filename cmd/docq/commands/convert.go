package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quenlabs/docq/internal/convert"
	"github.com/quenlabs/docq/internal/logging"
)

// NewConvertCmd constructs the `docq convert` command, which extracts
// tables from an image or PDF and writes JSON/CSV/Excel exports.
func NewConvertCmd() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "convert [file]",
		Short: "Extract tables from an image or PDF",
		Long: `Extract tables from an image (png, jpg, webp, gif) or PDF through a
multimodal Gemini model and write each table as JSON, CSV and Excel files.

PDFs are limited to 5 pages by default (CONVERT_MAX_PDF_PAGES overrides).
Requires GOOGLE_API_KEY.

Examples:
  docq convert scan.png
  docq convert --output ./exports quarterly-report.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			vision, err := convert.NewGeminiVision(ctx, os.Getenv("CONVERT_MODEL"))
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}

			if outputDir == "" {
				outputDir = convertOutputDir()
			}
			conv, err := convert.New(vision, convert.Config{
				OutputDir:   outputDir,
				MaxPDFPages: getEnvInt("CONVERT_MAX_PDF_PAGES", 0),
				Logger:      log,
			})
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}

			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("convert: failed to read %s: %w", path, err)
			}

			result, err := conv.Convert(ctx, path, data)
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}

			fmt.Printf("extracted %d table(s) to %s\n", len(result.Tables), outputDir)
			for _, tbl := range result.Tables {
				fmt.Printf("  %s:\n    json:  %s\n    csv:   %s\n    excel: %s\n",
					tbl.TableID, tbl.JSON, tbl.CSV, tbl.Excel)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for exported files (default: ./output)")

	return cmd
}

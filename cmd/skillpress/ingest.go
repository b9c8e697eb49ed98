package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/skillpress/skillpress/internal/extract"
)

var ingestTitle string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Extract a source document and prepare it for processing",
	Long: `Ingest extracts text from one or more source files (PDF, txt, or
markdown; multi-part PDFs like manual-1.pdf manual-2.pdf are joined in
numeric order) and stores the normalized text under the home directory.
The source ID printed on success is the handle for process, status, and
check.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		homeDir, err := newHomeDir()
		if err != nil {
			return err
		}
		if err := homeDir.EnsureExists(); err != nil {
			return err
		}
		cfg, err := loadConfig(homeDir)
		if err != nil {
			return err
		}

		doc, err := extract.FromPaths(cmd.Context(), extract.Request{
			Paths:  args,
			Title:  ingestTitle,
			Logger: slog.Default(),
		})
		if err != nil {
			return err
		}

		m, err := extract.Ingest(homeDir, doc, args, cfg.Pipeline.ChunkRunes)
		if err != nil {
			return err
		}

		fmt.Printf("ingested %q\n", m.Title)
		fmt.Printf("  source_id: %s\n", m.SourceID)
		fmt.Printf("  units:     %d\n", m.UnitCount)
		if m.Pages > 0 {
			fmt.Printf("  pages:     %d\n", m.Pages)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (default: derived from filename)")
}

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skillpress/skillpress/version"
)

var (
	cfgFile     string
	homeDirFlag string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "skillpress",
	Short: "Convert tax manuals into knowledge-base skill documents",
	Long: `Skillpress is a resumable pipeline that converts PDF tax manuals
into knowledge-base skill documents using LLM-powered transformation.

The pipeline includes:
  - Text extraction and content-unit splitting
  - Topic classification (keyword or LLM)
  - Enhancement, generation, and polish stages with retry and backoff
  - A durable progress ledger and content-addressed result cache,
    so interrupted runs resume without repeating completed work`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.skillpress/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDirFlag, "home", "", "skillpress home directory (default: ~/.skillpress)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/skillpress/skillpress/internal/cache"
	"github.com/skillpress/skillpress/internal/extract"
	"github.com/skillpress/skillpress/internal/ledger"
	"github.com/skillpress/skillpress/internal/pipeline"
	"github.com/skillpress/skillpress/internal/render"
)

var (
	processForce       bool
	processConcurrency int
)

var processCmd = &cobra.Command{
	Use:   "process <source-id>",
	Short: "Run the pipeline over an ingested source",
	Long: `Process runs every configured stage over the source's content units.
Completed work is served from the result cache and the progress ledger,
so rerunning after an interruption or partial failure only does the
remaining work. When every unit completes the final stage, the skill
document is rendered into the skills directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID := args[0]
		logger := slog.Default()

		homeDir, err := newHomeDir()
		if err != nil {
			return err
		}
		if !homeDir.SourceExists(sourceID) {
			return fmt.Errorf("source %s has not been ingested", sourceID)
		}
		cfg, err := loadConfig(homeDir)
		if err != nil {
			return err
		}
		cfgs, err := cfg.StageConfigs()
		if err != nil {
			return err
		}

		units, manifest, err := extract.LoadUnits(homeDir, sourceID)
		if err != nil {
			return err
		}

		store, err := cache.NewStore(homeDir.CacheDir(sourceID))
		if err != nil {
			return err
		}
		led, err := ledger.Open(homeDir.LedgerPath(sourceID), pipeline.StageOrder(cfgs))
		if err != nil {
			return err
		}
		defer led.Close()

		procs, provider, err := buildProcessors(cfg, cfgs, logger)
		if err != nil {
			return err
		}
		if provider != nil {
			// Fail fast on a bad key or unreachable API before any
			// pipeline work starts.
			if err := provider.HealthCheck(cmd.Context()); err != nil {
				return fmt.Errorf("provider health check failed: %w", err)
			}
		}

		concurrency := cfg.Pipeline.Concurrency
		if processConcurrency > 0 {
			concurrency = processConcurrency
		}

		coord, err := pipeline.New(pipeline.Options{
			Ledger:      led,
			Cache:       store,
			Stages:      cfgs,
			Processors:  procs,
			Concurrency: concurrency,
			Force:       processForce,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		summary, err := coord.Run(cmd.Context(), units)
		if summary != nil {
			printSummary(summary)
		}
		if err != nil {
			return err
		}

		if summary.Complete {
			r := render.New(store, led, logger)
			if err := r.Render(homeDir.SkillPath(sourceID), manifest, units, cfgs); err != nil {
				return err
			}
			fmt.Printf("skill document written to %s\n", homeDir.SkillPath(sourceID))
		} else if len(summary.FailedUnits) > 0 {
			return fmt.Errorf("%d unit(s) failed; rerun to retry", len(summary.FailedUnits))
		}
		return nil
	},
}

func printSummary(summary *pipeline.RunSummary) {
	data, err := yaml.Marshal(summary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render summary: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func init() {
	processCmd.Flags().BoolVar(&processForce, "force", false,
		"discard cached results and ledger state, reprocessing from scratch")
	processCmd.Flags().IntVar(&processConcurrency, "concurrency", 0,
		"override configured worker concurrency")
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/skillpress/skillpress/internal/cache"
	"github.com/skillpress/skillpress/internal/consistency"
	"github.com/skillpress/skillpress/internal/ledger"
	"github.com/skillpress/skillpress/internal/pipeline"
)

var checkReconcile bool

var checkCmd = &cobra.Command{
	Use:   "check <source-id>",
	Short: "Verify ledger and cache agree for a source",
	Long: `Check compares the progress ledger against the result cache and
reports disagreements: success claims with no cached result (missing),
cached results with no success record (orphaned), and results whose
retention fell below the low-water mark (degraded).

With --reconcile, missing entries are demoted to failed so the next
process run redoes them. Orphaned entries are always retained.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID := args[0]

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

		store, err := cache.NewStore(homeDir.CacheDir(sourceID))
		if err != nil {
			return err
		}
		led, err := ledger.Open(homeDir.LedgerPath(sourceID), pipeline.StageOrder(cfgs))
		if err != nil {
			return err
		}
		defer led.Close()

		checker := consistency.New(led, store, cfgs, slog.Default())

		var report *consistency.Report
		if checkReconcile {
			report, err = checker.CheckAndRepair()
		} else {
			report, err = checker.Scan()
		}
		if err != nil {
			return err
		}

		if report.Clean() {
			fmt.Println("ledger and cache are consistent")
			return nil
		}

		data, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		fmt.Print(string(data))

		if !checkReconcile {
			fmt.Fprintln(os.Stderr, "run with --reconcile to repair")
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkReconcile, "reconcile", false,
		"demote dangling success claims so they reprocess")
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skillpress/skillpress/internal/extract"
	"github.com/skillpress/skillpress/internal/home"
	"github.com/skillpress/skillpress/internal/ledger"
	"github.com/skillpress/skillpress/internal/pipeline"
	"github.com/skillpress/skillpress/internal/stage"
)

var statusCmd = &cobra.Command{
	Use:   "status [source-id]",
	Short: "Show pipeline progress for a source (or list all sources)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		homeDir, err := newHomeDir()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			return listSources(homeDir)
		}
		return sourceStatus(homeDir, args[0])
	},
}

func listSources(homeDir *home.Dir) error {
	ids, err := homeDir.ListSources()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no sources ingested")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func sourceStatus(homeDir *home.Dir, sourceID string) error {
	if !homeDir.SourceExists(sourceID) {
		return fmt.Errorf("source %s has not been ingested", sourceID)
	}

	m, err := extract.LoadManifest(homeDir, sourceID)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(homeDir)
	if err != nil {
		return err
	}
	cfgs, err := cfg.StageConfigs()
	if err != nil {
		return err
	}

	led, err := ledger.Open(homeDir.LedgerPath(sourceID), pipeline.StageOrder(cfgs))
	if err != nil {
		return err
	}
	defer led.Close()

	fmt.Printf("%s (%s)\n", m.Title, m.SourceID)
	fmt.Printf("  units: %d\n\n", m.UnitCount)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tPENDING\tSUCCESS\tFAILED\tSKIPPED")
	for _, sc := range cfgs {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", sc.Stage,
			len(led.UnitsAtStage(sc.Stage, stage.StatusPending)),
			len(led.UnitsAtStage(sc.Stage, stage.StatusSuccess)),
			len(led.UnitsAtStage(sc.Stage, stage.StatusFailed)),
			len(led.UnitsAtStage(sc.Stage, stage.StatusSkipped)))
	}
	return w.Flush()
}

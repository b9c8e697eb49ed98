package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skillpress/skillpress/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the skillpress home directory and default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		homeDir, err := newHomeDir()
		if err != nil {
			return err
		}
		existed := homeDir.Exists()
		if err := homeDir.EnsureExists(); err != nil {
			return err
		}

		if homeDir.ConfigExists() {
			fmt.Printf("config already exists at %s\n", homeDir.ConfigPath())
			return nil
		}
		if err := config.WriteDefault(homeDir.ConfigPath()); err != nil {
			return err
		}

		if !existed {
			fmt.Printf("initialized %s\n", homeDir.Path())
		}
		fmt.Printf("wrote default config to %s\n", homeDir.ConfigPath())
		return nil
	},
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/roclient/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write an example config file",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{skipClient: "true"},
	RunE:        runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := ".roclient/config.json"
	if len(args) == 1 {
		path = args[0]
	}

	if err := config.SaveExample(path); err != nil {
		return reportError(err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "path": path})
	} else {
		printSuccess("Wrote %s", path)
	}
	return nil
}

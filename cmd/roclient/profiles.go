package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/roclient/internal/models"
)

var profilesCmd = &cobra.Command{
	Use:     "profiles",
	Aliases: []string{"ls"},
	Short:   "List the profiles you can use",
	RunE:    runProfiles,
}

var useCmd = &cobra.Command{
	Use:   "use <id|name>",
	Short: "Switch the active profile",
	Long: `Use asks the server to switch the session to another profile and makes
it active locally. The cached password is dropped, so the next crypt
command prompts for the new profile's password.`,
	Example: `  roclient use 4
  roclient use "Operations"`,
	Args: cobra.ExactArgs(1),
	RunE: runUse,
}

func init() {
	rootCmd.AddCommand(profilesCmd, useCmd)
}

type profileView struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Active bool                   `json:"active"`
	Extra  map[string]interface{} `json:"metadata,omitempty"`
}

func runProfiles(cmd *cobra.Command, args []string) error {
	if err := startClient(cmd); err != nil {
		return err
	}

	activeID := apiClient.Registry.ActiveID()
	list := apiClient.Registry.List()

	if jsonOutput {
		views := make([]profileView, 0, len(list))
		for _, p := range list {
			views = append(views, profileView{ID: p.ID, Name: p.DisplayName, Active: p.ID == activeID, Extra: p.Metadata})
		}
		printJSON(map[string]interface{}{
			"success":  true,
			"active":   activeID,
			"profiles": views,
		})
		return nil
	}

	if len(list) == 0 {
		printInfo("No profiles available")
		return nil
	}

	for _, p := range list {
		marker := "  "
		if p.ID == activeID {
			marker = successColor.Sprint("* ")
		}
		printInfo("%s%-6s %s", marker, p.ID, p.Label())
	}
	return nil
}

func runUse(cmd *cobra.Command, args []string) error {
	if err := startClient(cmd); err != nil {
		return err
	}

	p, err := apiClient.Registry.Resolve(args[0])
	if err != nil {
		return reportError(err)
	}

	if err := apiClient.Profiles.SwitchActiveProfile(cmd.Context(), p.ID); err != nil {
		return reportError(err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"active":  p.ID,
			"name":    p.DisplayName,
		})
	} else {
		printSuccess("Active profile: %s", profileLabel(p))
	}
	return nil
}

func profileLabel(p models.Profile) string {
	if p.DisplayName == "" || p.DisplayName == p.ID {
		return p.ID
	}
	return p.DisplayName + " (" + p.ID + ")"
}

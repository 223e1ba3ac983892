package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/roclient/internal/models"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd [id|name]",
	Short: "Change a profile password",
	Long: `Passwd changes the password of a profile, the active one by default.
When the active profile's password changes, the cached password is
dropped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPasswd,
}

func init() {
	rootCmd.AddCommand(passwdCmd)
}

var errPasswordMismatch = errors.New("new passwords do not match")

func runPasswd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := startClient(cmd); err != nil {
		return err
	}

	var (
		p  models.Profile
		ok bool
	)
	if len(args) == 1 {
		var err error
		if p, err = apiClient.Registry.Resolve(args[0]); err != nil {
			return reportError(err)
		}
	} else if p, ok = apiClient.Registry.Active(); !ok {
		return reportError(models.ErrNoActiveProfile)
	}

	oldPassword, err := terminal.ReadSecret(ctx, "Current password for "+p.Label()+": ")
	if err != nil {
		return reportError(err)
	}
	newPassword, err := terminal.ReadSecret(ctx, "New password: ")
	if err != nil {
		return reportError(err)
	}
	confirm, err := terminal.ReadSecret(ctx, "Confirm new password: ")
	if err != nil {
		return reportError(err)
	}
	if confirm != newPassword {
		return reportError(errPasswordMismatch)
	}

	out, err := apiClient.Profiles.ChangePassword(ctx, p.ID, oldPassword, newPassword)
	if err != nil {
		return reportError(err)
	}
	if !out.Success {
		return reportError(out.Err())
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":    true,
			"profile_id": p.ID,
		})
	} else {
		printSuccess("Password changed for %s", profileLabel(p))
	}
	return nil
}

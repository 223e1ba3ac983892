package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the Red October server",
	Long:  `Login opens a server session and keeps it for later commands.`,
	Example: `  roclient login --login alice --db production
  roclient login --login alice -p secret`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the cached password and end the server session",
	RunE:  runLogout,
}

var (
	loginUser     string
	loginDB       string
	loginPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)

	loginCmd.Flags().StringVarP(&loginUser, "login", "l", "",
		"Login name (default from config)")
	loginCmd.Flags().StringVar(&loginDB, "db", "",
		"Database name (default from config)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "",
		"Password (will prompt if not provided)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if loginUser == "" {
		loginUser = cfg.Auth.Login
	}
	if loginDB == "" {
		loginDB = cfg.Auth.Database
	}

	if loginPassword == "" && cfg.Auth.CredentialsFile == "" {
		var err error
		loginPassword, err = terminal.ReadSecret(ctx, "Password: ")
		if err != nil {
			return reportError(fmt.Errorf("read password: %w", err))
		}
	}

	sess, err := apiClient.Auth.Login(ctx, loginDB, loginUser, loginPassword)
	if err != nil {
		return reportError(err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"login":   sess.Login,
			"uid":     sess.UserID,
			"db":      sess.Database,
		})
	} else {
		printSuccess("Logged in as %s", sess.Login)
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := apiClient.Logout(cmd.Context()); err != nil {
		return reportError(err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("Logged out")
	}
	return nil
}

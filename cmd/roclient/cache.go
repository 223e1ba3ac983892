package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/roclient/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the local profile cache",
	Long: `The profile cache holds the last profile listing fetched from each
server. It is used when the server cannot be reached. Passwords are never
cached.`,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List cached servers and profiles",
	RunE:  runCacheShow,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the cached listing for the configured server",
	RunE:  runCacheClear,
}

var cacheMigrateCmd = &cobra.Command{
	Use:     "migrate",
	Short:   "Copy the cache into another backend",
	Example: `  roclient cache migrate --to sqlite --dir ~/.roclient/db`,
	RunE:    runCacheMigrate,
}

var (
	migrateBackend string
	migrateDir     string
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheShowCmd, cacheClearCmd, cacheMigrateCmd)

	cacheMigrateCmd.Flags().StringVar(&migrateBackend, "to", "sqlite", "Target backend: json, sqlite")
	cacheMigrateCmd.Flags().StringVar(&migrateDir, "dir", "", "Target directory (default: state dir)")
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	entries, err := apiClient.Cache.List()
	if err != nil {
		return reportError(err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "servers": entries})
		return nil
	}

	if len(entries) == 0 {
		printInfo("Cache is empty")
		return nil
	}
	for _, e := range entries {
		printInfo("%s", e.Server)
		for _, p := range e.Snapshot.Profiles {
			marker := "  "
			if p.ID == e.ActiveID {
				marker = "* "
			}
			printInfo("  %s%-6s %s", marker, p.ID, p.Label())
		}
		printInfo("  saved %s", e.Snapshot.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	if err := apiClient.Cache.Reset(); err != nil {
		return reportError(err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("Cleared cached profiles for %s", cfg.API.BaseURL)
	}
	return nil
}

func runCacheMigrate(cmd *cobra.Command, args []string) error {
	dst := &config.StateConfig{Backend: migrateBackend, Dir: migrateDir}
	if dst.Dir == "" {
		dst.Dir = cfg.State.Dir
	}

	n, err := apiClient.Cache.MigrateTo(dst)
	if err != nil {
		return reportError(err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "migrated": n, "backend": dst.Backend})
	} else {
		printSuccess("Migrated %d snapshot(s) to %s", n, dst.Backend)
	}
	return nil
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/roclient/internal/client"
	"github.com/TheMichaelB/roclient/internal/config"
	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/prompt"
	"github.com/TheMichaelB/roclient/internal/services/profiles"
)

// skipClient marks commands that run without a client.
const skipClient = "skip-client"

var (
	cfgFile    string
	jsonOutput bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
	terminal  *prompt.Terminal

	// stdin is shared by the shell and a non-terminal password prompt.
	stdin = bufio.NewReader(os.Stdin)
)

var rootCmd = &cobra.Command{
	Use:   "roclient",
	Short: "Red October profile and crypto client",
	Long: `roclient manages the Red October profiles of a user, keeps the password
of the active profile unlocked for the session, and encrypts or decrypts
data through the server.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default: search .roclient, ~/.config/roclient)")
	flags.BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-file", "", "Write logs to file")
	flags.String("base-url", "", "Red October server URL")
	flags.String("state", "", "Profile cache backend: json, sqlite, none")
	flags.Bool("local", false, "Use the local crypto backend instead of the server")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.NewLoader(cfgFile).WithFlags(cmd.Flags()).Load()
	if err != nil {
		return reportError(err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return reportError(err)
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return reportError(err)
	}

	if cmd.Annotations[skipClient] != "" {
		return nil
	}

	var opts []prompt.Option
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		opts = append(opts, prompt.WithInput(stdin))
	}
	terminal = prompt.NewTerminal(&cfg.Prompt, logger, opts...)
	apiClient, err = client.New(cfg, logger, client.WithPrompter(terminal))
	if err != nil {
		return reportError(fmt.Errorf("create client: %w", err))
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if apiClient == nil {
		return nil
	}
	err := apiClient.Close()
	apiClient = nil
	return err
}

// startClient loads the profiles. Offline mode is reported but not fatal.
func startClient(cmd *cobra.Command) error {
	err := apiClient.Start(cmd.Context())
	if errors.Is(err, profiles.ErrOffline) {
		if !jsonOutput {
			printWarning("Server unreachable, showing cached profiles")
		}
		return nil
	}
	if err != nil {
		return reportError(err)
	}
	return nil
}

// reportError prints err in the selected format and returns it so cobra
// exits non-zero.
func reportError(err error) error {
	if jsonOutput {
		printJSON(errorPayload(err))
	} else {
		printErrors(err)
	}
	return err
}

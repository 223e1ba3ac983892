package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/TheMichaelB/roclient/internal/session"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session that keeps the password unlocked",
	Long: `Shell runs several commands in one process, so the password of the
active profile is asked for once and reused until the profile changes,
the server rejects it, or you run "lock".`,
	RunE: runShell,
}

// shellCommands may be run from the shell prompt.
var shellCommands = map[string]*cobra.Command{}

// inShell is set while the shell owns stdin.
var inShell bool

func init() {
	rootCmd.AddCommand(shellCmd)

	for _, c := range []*cobra.Command{profilesCmd, useCmd, encryptCmd, decryptCmd, passwdCmd, statusCmd} {
		shellCommands[c.Name()] = c
		for _, alias := range c.Aliases {
			shellCommands[alias] = c
		}
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	if err := startClient(cmd); err != nil {
		return err
	}
	inShell = true
	defer func() { inShell = false }()

	unsubscribe := apiClient.Registry.Subscribe(func(ev session.Event) {
		if ev.Type == session.EventProfileChanged && ev.ActiveID != "" {
			if p, err := apiClient.Registry.Get(ev.ActiveID); err == nil {
				printInfo("Active profile is now %s", profileLabel(p))
			}
		}
	})
	defer unsubscribe()

	printInfo("roclient shell, type 'help' for commands")
	for {
		fmt.Fprint(os.Stderr, shellPrompt())

		line, err := stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return reportError(err)
		}
		atEOF := err != nil

		fields := strings.Fields(line)
		if len(fields) > 0 {
			if quit := shellDispatch(cmd, fields); quit {
				return nil
			}
		}

		if atEOF || cmd.Context().Err() != nil {
			fmt.Fprintln(os.Stderr)
			return nil
		}
	}
}

func shellPrompt() string {
	if p, ok := apiClient.Registry.Active(); ok {
		return fmt.Sprintf("ro:%s> ", p.Label())
	}
	return "ro> "
}

// shellDispatch runs one shell line and reports whether the shell should
// exit. Errors were already printed by the command.
func shellDispatch(parent *cobra.Command, fields []string) bool {
	switch fields[0] {
	case "exit", "quit":
		return true
	case "help":
		printShellHelp()
		return false
	case "lock":
		apiClient.Coordinator.Logout()
		printSuccess("Password forgotten")
		return false
	}

	sub, ok := shellCommands[fields[0]]
	if !ok {
		printError("Unknown command %q, type 'help'", fields[0])
		return false
	}

	resetFlags(sub.LocalNonPersistentFlags())
	if err := sub.ParseFlags(fields[1:]); err != nil {
		printError("%v", err)
		return false
	}
	if sub.Args != nil {
		if err := sub.Args(sub, sub.Flags().Args()); err != nil {
			printError("%v", err)
			return false
		}
	}

	sub.SetContext(parent.Context())
	_ = sub.RunE(sub, sub.Flags().Args())
	return false
}

// resetFlags restores defaults so values do not leak between shell lines.
func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func printShellHelp() {
	names := []string{"profiles", "use", "encrypt", "decrypt", "passwd", "status"}
	for _, name := range names {
		printInfo("  %-9s %s", name, shellCommands[name].Short)
	}
	printInfo("  %-9s %s", "lock", "Forget the cached password")
	printInfo("  %-9s %s", "exit", "Leave the shell")
}

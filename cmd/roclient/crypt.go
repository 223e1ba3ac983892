package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/roclient/internal/models"
	"github.com/TheMichaelB/roclient/internal/storage"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt [data]",
	Short: "Encrypt data with the active profile",
	Long: `Encrypt sends data to the server under the active profile. The data comes
from the arguments, from --file, or from standard input when neither is
given. The profile password is asked for once per session.`,
	Example: `  roclient encrypt "launch codes"
  roclient encrypt --file secret.txt --out secret.ro`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrypt(cmd, args, models.OpEncrypt)
	},
}

var decryptCmd = &cobra.Command{
	Use:     "decrypt [data]",
	Short:   "Decrypt data with the active profile",
	Example: `  roclient decrypt --file secret.ro --out secret.txt --on-conflict rename`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrypt(cmd, args, models.OpDecrypt)
	},
}

var (
	cryptFile  string
	cryptOut   string
	cryptClip  bool
	onConflict string
)

var errShellStdin = errors.New("data is required in the shell, pass it as arguments or --file")

func init() {
	rootCmd.AddCommand(encryptCmd, decryptCmd)

	for _, c := range []*cobra.Command{encryptCmd, decryptCmd} {
		c.Flags().StringVarP(&cryptFile, "file", "f", "",
			"Read data from file ('-' for stdin)")
		c.Flags().StringVarP(&cryptOut, "out", "o", "",
			"Write the result to a file instead of stdout")
		c.Flags().BoolVarP(&cryptClip, "clip", "c", false,
			"Copy the result to the clipboard instead of printing it")
		c.Flags().StringVar(&onConflict, "on-conflict", "error",
			"When --out exists: error, overwrite, rename")
	}
}

func readPayload(args []string) (string, error) {
	if inShell && (cryptFile == "-" || (cryptFile == "" && len(args) == 0)) {
		return "", errShellStdin
	}

	switch {
	case cryptFile == "-":
		data, err := io.ReadAll(stdin)
		return string(data), err
	case cryptFile != "":
		data, err := os.ReadFile(cryptFile)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", cryptFile, err)
		}
		return string(data), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
}

func runCrypt(cmd *cobra.Command, args []string, kind models.OperationKind) error {
	strategy, err := storage.ParseConflictStrategy(onConflict)
	if err != nil {
		return reportError(err)
	}

	payload, err := readPayload(args)
	if err != nil {
		return reportError(err)
	}

	if err := startClient(cmd); err != nil {
		return err
	}

	res, err := apiClient.Coordinator.Request(cmd.Context(), kind, payload)
	if err != nil {
		return reportError(err)
	}

	if cryptClip {
		if err := clipboard.WriteAll(res.Data); err != nil {
			return reportError(fmt.Errorf("copy to clipboard: %w", err))
		}
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success":    true,
				"kind":       res.Kind,
				"profile_id": res.ProfileID,
				"clipboard":  true,
			})
		} else {
			printSuccess("Copied result to clipboard")
		}
		return nil
	}

	if cryptOut != "" {
		written, err := storage.NewOutputWriter(strategy, logger).Write(cryptOut, []byte(res.Data), 0600)
		if err != nil {
			return reportError(err)
		}
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success":    true,
				"kind":       res.Kind,
				"profile_id": res.ProfileID,
				"path":       written,
			})
		} else {
			printSuccess("Wrote %s", written)
		}
		return nil
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":    true,
			"kind":       res.Kind,
			"profile_id": res.ProfileID,
			"data":       res.Data,
		})
		return nil
	}

	fmt.Fprintln(os.Stdout, res.Data)
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/TheMichaelB/roclient/internal/models"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printSuccess(format string, args ...interface{}) {
	successColor.Fprint(os.Stdout, "✓ ")
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprint(os.Stderr, "✗ ")
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warnColor.Fprintf(os.Stderr, "! "+format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

// userMessages maps err onto what the user sees. Local errors outside the
// taxonomy, such as a bad config file, are shown as they are.
func userMessages(err error) []string {
	if models.Code(err) == models.ErrCodeUnknown {
		return []string{err.Error()}
	}
	return models.Messages(err)
}

// printErrors prints every user-facing message of err.
func printErrors(err error) {
	for _, msg := range userMessages(err) {
		printError("%s", msg)
	}
	if logger != nil {
		logger.WithError(err).Debug("Command failed")
	}
}

func errorPayload(err error) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"code":    models.Code(err),
		"errors":  userMessages(err),
	}
}

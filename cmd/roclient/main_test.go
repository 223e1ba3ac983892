package main

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/roclient/internal/models"
)

func withStdin(t *testing.T, input string) {
	t.Helper()
	saved := stdin
	stdin = bufio.NewReader(strings.NewReader(input))
	t.Cleanup(func() { stdin = saved })
}

func TestReadPayload(t *testing.T) {
	t.Cleanup(func() {
		cryptFile = ""
		inShell = false
	})

	file := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(file, []byte("from file"), 0600))

	tests := []struct {
		name    string
		args    []string
		file    string
		shell   bool
		stdin   string
		want    string
		wantErr error
	}{
		{name: "arguments", args: []string{"launch", "codes"}, want: "launch codes"},
		{name: "file", file: file, want: "from file"},
		{name: "stdin by default", stdin: "piped", want: "piped"},
		{name: "stdin by dash", file: "-", stdin: "dashed", want: "dashed"},
		{name: "shell arguments", args: []string{"x"}, shell: true, want: "x"},
		{name: "shell refuses stdin", shell: true, wantErr: errShellStdin},
		{name: "shell refuses dash", file: "-", shell: true, wantErr: errShellStdin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withStdin(t, tt.stdin)
			cryptFile = tt.file
			inShell = tt.shell

			got, err := readPayload(tt.args)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		cryptFile = filepath.Join(t.TempDir(), "nope")
		inShell = false
		_, err := readPayload(nil)
		assert.Error(t, err)
	})
}

func TestResetFlags(t *testing.T) {
	fs := encryptCmd.LocalNonPersistentFlags()
	require.NoError(t, fs.Set("file", "a.txt"))
	require.NoError(t, fs.Set("on-conflict", "rename"))

	resetFlags(fs)

	assert.Equal(t, "", cryptFile)
	assert.Equal(t, "error", onConflict)
	assert.False(t, fs.Lookup("file").Changed)
}

func TestUserMessages(t *testing.T) {
	t.Run("known error", func(t *testing.T) {
		err := &models.ValidationError{Errors: []string{"Invalid password"}}
		assert.Equal(t, []string{"Invalid password"}, userMessages(err))
		assert.Equal(t, models.ErrCodeValidation, errorPayload(err)["code"])
	})

	t.Run("local error shown as is", func(t *testing.T) {
		err := errors.New("config: api.base_url is required")
		assert.Equal(t, []string{err.Error()}, userMessages(err))
	})
}

func TestShellCommandsRegistered(t *testing.T) {
	for _, name := range []string{"profiles", "ls", "use", "encrypt", "decrypt", "passwd", "status"} {
		assert.Contains(t, shellCommands, name)
	}
	assert.NotContains(t, shellCommands, "shell")
	assert.NotContains(t, shellCommands, "login")
}

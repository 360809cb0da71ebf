package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/lantransfer/pkg/sender"
)

func TestRootHasCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "send", "peers"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	for _, flag := range []string{"config", "log-file", "verbose"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestSetupLoggingToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "out.log")
	closeLog, err := setupLogging(globalFlags{logFile: path, verbose: true}, false)
	require.NoError(t, err)

	slog.Debug("debug line", "k", "v")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug line")
	assert.Contains(t, string(data), "k=v")
}

func TestSetupLoggingDefaultFileForTUI(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Chdir(t.TempDir())

	closeLog, err := setupLogging(globalFlags{}, true)
	require.NoError(t, err)
	slog.Info("hello")
	closeLog()

	_, err = os.Stat(defaultLogFile)
	assert.NoError(t, err)
}

func TestSendArgumentValidation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("hi"), 0o644))

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"no target", []string{"send", file}, sender.ErrNoTarget},
		{"both targets", []string{"send", "--addr", "127.0.0.1:1", "--peer", "x", file}, nil},
		{"missing file", []string{"send", "--addr", "127.0.0.1:1", filepath.Join(t.TempDir(), "nope")}, nil},
		{"directory", []string{"send", "--addr", "127.0.0.1:1", t.TempDir()}, nil},
		{"no files", []string{"send", "--addr", "127.0.0.1:1"}, nil},
	}

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetArgs(append(tt.args, "--log-file", filepath.Join(t.TempDir(), "log")))
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetErr(&out)

			err := root.Execute()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

const defaultLogFile = "lantransfer.log"

type globalFlags struct {
	configFile string
	logFile    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	var closeLog func()

	root := &cobra.Command{
		Use:   "lantransfer",
		Short: "Send and receive files on the local network",
		Long: `lantransfer moves files between devices on the same network over a
plain TCP connection. A receiver advertises itself over mDNS; senders find
it by name or connect to its address directly.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			tui, _ := cmd.Flags().GetBool("tui")
			var err error
			closeLog, err = setupLogging(flags, tui)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeLog != nil {
				closeLog()
			}
		},
	}

	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (default is $HOME/.lantransfer.yaml)")
	root.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "write logs to this file (default "+defaultLogFile+" when the TUI is on)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(&flags),
		newSendCmd(),
		newPeersCmd(),
	)
	return root
}

// setupLogging installs the default slog handler. The TUI owns the
// terminal, so logs go to a file while it runs.
func setupLogging(flags globalFlags, tui bool) (func(), error) {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}

	path := flags.logFile
	if path == "" && tui {
		path = defaultLogFile
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
		closeFn = func() {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
			}
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return closeFn, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fang.Execute(ctx, newRootCmd()); err != nil {
		stop()
		os.Exit(1)
	}
}

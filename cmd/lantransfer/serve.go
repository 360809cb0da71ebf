package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rescp17/lantransfer/internal/config"
	"github.com/rescp17/lantransfer/internal/util"
	"github.com/rescp17/lantransfer/pkg/receiver"
	"github.com/rescp17/lantransfer/pkg/transfer"
	"github.com/rescp17/lantransfer/pkg/ui"
)

func newServeCmd(global *globalFlags) *cobra.Command {
	var (
		noMDNS bool
		tui    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive files from peers on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(global.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			for _, dir := range []string{cfg.DestinationDir, cfg.TempDir} {
				if err := util.EnsureDir(dir); err != nil {
					return err
				}
			}

			app, err := receiver.NewApp(cfg, !noMDNS, receiver.WithCompletionHandler(func(c transfer.Completion) {
				if !tui {
					cmd.Printf("Received %s (%s) -> %s\n", c.FileName, util.FormatSize(c.Size), c.FilePath)
				}
			}))
			if err != nil {
				return err
			}

			if !tui {
				cmd.Printf("Receiving as %q, saving to %s\n", cfg.DeviceName, cfg.DestinationDir)
				return app.Run(cmd.Context())
			}
			return runWithStatusView(cmd.Context(), app)
		},
	}

	f := cmd.Flags()
	f.String("host", "", "interface address to listen on (default all)")
	f.Int("port", receiver.DefaultConfig().Port, "TCP port to listen on, 0 for any free port")
	f.String("dest", "", "directory received files are saved to")
	f.String("temp", "", "directory for partial downloads")
	f.String("name", "", "device name shown to senders")
	f.Uint64("max-size", 0, "largest accepted file in bytes")
	f.Duration("timeout", 0, "time limit for a single transfer")
	f.StringSlice("extensions", nil, "accepted file extensions, e.g. .txt,.pdf")
	f.BoolVar(&noMDNS, "no-mdns", false, "do not advertise the receiver over mDNS")
	f.BoolVar(&tui, "tui", false, "show a live status view")
	return cmd
}

// runWithStatusView runs the receiver and the status view side by side.
// Quitting the view stops the receiver; a receiver failure ends the view.
func runWithStatusView(parent context.Context, app *receiver.App) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- app.Run(ctx)
		cancel()
	}()

	uiErr := ui.Run(ctx, ui.NewReceiverModel(app.Server()))
	cancel()

	err := <-runErr
	if uiErr != nil {
		slog.Error("Status view failed", "error", uiErr)
		return errors.Join(fmt.Errorf("status view: %w", uiErr), err)
	}
	return err
}

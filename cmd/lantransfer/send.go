package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescp17/lantransfer/internal/util"
	"github.com/rescp17/lantransfer/pkg/discovery"
	"github.com/rescp17/lantransfer/pkg/sender"
	"github.com/rescp17/lantransfer/pkg/transfer"
	"github.com/rescp17/lantransfer/pkg/ui"
)

func newSendCmd() *cobra.Command {
	var (
		addr       string
		peer       string
		name       string
		chunkSize  uint32
		jsonChunks bool
		lookup     time.Duration
		tui        bool
	)

	cmd := &cobra.Command{
		Use:   "send [FILE...]",
		Short: "Send files to a receiver",
		Long: `Send files to a receiver, one after another over a single connection.
With --tui and no FILE arguments a file picker opens first.`,
		Example: `  lantransfer send --addr 192.168.1.20:53317 report.pdf
  lantransfer send --peer desk notes.txt photo.jpg
  lantransfer send --peer desk --tui`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" && peer == "" {
				return sender.ErrNoTarget
			}
			if addr != "" && peer != "" {
				return errors.New("--addr and --peer are mutually exclusive")
			}
			if len(args) == 0 && !tui {
				return errors.New("at least one FILE is required without --tui")
			}
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				if info.IsDir() {
					return fmt.Errorf("%s is a directory", path)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name, _ = os.Hostname()
			}
			opts := sender.Options{
				DeviceName: name,
				ChunkSize:  chunkSize,
				JSONChunks: jsonChunks,
			}

			if len(args) == 0 {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				// Local pre-filter only; the receiver's allow-list is authoritative.
				accepts := transfer.DefaultTransferConfig().IsAllowedExtension
				if args, err = ui.Pick(cmd.Context(), wd, accepts); err != nil {
					return err
				}
			}

			var view ui.SenderModel
			if tui {
				view = ui.NewSenderModel(firstNonEmpty(addr, peer), args)
				opts.OnProgress = view.Report
			}

			app := sender.NewApp(newDiscoverer(), opts)
			app.LookupTimeout = lookup

			target, err := app.Resolve(cmd.Context(), addr, peer)
			if err != nil {
				return err
			}

			if !tui {
				results, err := app.SendFiles(cmd.Context(), target, args)
				for _, r := range results {
					cmd.Printf("Sent %s (%s) in %s\n", r.FileName, util.FormatSize(r.Size), util.FormatDuration(r.Duration))
				}
				return err
			}
			return sendWithView(cmd.Context(), app, target, args, view)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "receiver address as host:port")
	f.StringVar(&peer, "peer", "", "receiver device or instance name to look up over mDNS")
	f.StringVar(&name, "name", "", "device name announced in the handshake (default hostname)")
	f.Uint32Var(&chunkSize, "chunk-size", 0, "chunk size in bytes (default picked from file size)")
	f.BoolVar(&jsonChunks, "json-chunks", false, "send base64 JSON chunks instead of binary frames")
	f.DurationVar(&lookup, "lookup-timeout", 5*time.Second, "how long to search for --peer")
	f.BoolVar(&tui, "tui", false, "show transfer progress")
	return cmd
}

func sendWithView(parent context.Context, app *sender.App, target string, files []string, view ui.SenderModel) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sendErr := make(chan error, 1)
	go func() {
		results, err := app.SendFiles(ctx, target, files)
		view.Finish(results, err)
		sendErr <- err
	}()

	uiErr := ui.Run(ctx, view)
	// Quitting the view early abandons the send.
	cancel()
	return errors.Join(<-sendErr, uiErr)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newDiscoverer() discovery.Adapter {
	silenceDNSSD()
	return &discovery.MDNSAdapter{}
}

package main

import (
	"io"
	"time"

	dnssdlog "github.com/brutella/dnssd/log"
	"github.com/spf13/cobra"

	"github.com/rescp17/lantransfer/internal/util"
	"github.com/rescp17/lantransfer/pkg/discovery"
)

func newPeersCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List receivers advertising on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service := discovery.ServiceName(discovery.DefaultServerType, discovery.DefaultDomain)
			peers, err := discovery.Collect(cmd.Context(), newDiscoverer(), service, timeout)
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				cmd.Println("No receivers found.")
				return nil
			}
			for _, p := range peers {
				cmd.Printf("%s %s %s\n",
					util.PadRight(p.DeviceName(), 24),
					util.PadRight(p.Address(), 22),
					p.Name)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to listen for announcements")
	return cmd
}

func silenceDNSSD() {
	dnssdlog.Info.SetOutput(io.Discard)
	dnssdlog.Debug.SetOutput(io.Discard)
}

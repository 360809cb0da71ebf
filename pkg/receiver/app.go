package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime"

	dnssdlog "github.com/brutella/dnssd/log"
	"github.com/google/uuid"

	"github.com/rescp17/lantransfer/pkg/discovery"
	"github.com/rescp17/lantransfer/pkg/protocol"
)

// App runs the receiver server and advertises it on the local network.
type App struct {
	server    *Server
	registrar discovery.Adapter
	announce  bool
}

// NewApp creates a receiver application. With announce set the bound port is
// published over mDNS for as long as the app runs.
func NewApp(cfg Config, announce bool, opts ...Option) (*App, error) {
	server, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, err
	}

	dnssdlog.Info.SetOutput(io.Discard)
	dnssdlog.Debug.SetOutput(io.Discard)

	return &App{
		server:    server,
		registrar: &discovery.MDNSAdapter{},
		announce:  announce,
	}, nil
}

// Server exposes the underlying server for state subscriptions.
func (a *App) Server() *Server {
	return a.server
}

// Run starts serving and blocks until ctx is cancelled or the announcement
// fails. The server is stopped before Run returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if err := a.server.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := a.server.Stop(); err != nil {
			slog.Warn("Error stopping receiver", "error", err)
		}
	}()

	if a.announce {
		a.startRegistration(ctx, cancel)
	}

	<-ctx.Done()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

func (a *App) startRegistration(ctx context.Context, cancel context.CancelCauseFunc) {
	addr, ok := a.server.Addr().(*net.TCPAddr)
	if !ok {
		slog.Error("Cannot announce receiver without a TCP address")
		return
	}

	cfg := a.server.Config()
	serviceUUID := uuid.New().String()
	serviceInfo := discovery.ServiceInfo{
		Name:   fmt.Sprintf("%s-%s", cfg.DeviceName, serviceUUID[:8]),
		Type:   discovery.DefaultServerType,
		Domain: discovery.DefaultDomain,
		Port:   addr.Port,
		Text: map[string]string{
			discovery.TextDeviceName: cfg.DeviceName,
			discovery.TextPlatform:   runtime.GOOS,
			discovery.TextProtocol:   protocol.Version,
		},
	}

	go func() {
		if err := a.registrar.Announce(ctx, serviceInfo); err != nil {
			slog.Error("Failed to start mDNS announcement", "error", err)
			// exit the app if we can't announce
			cancel(fmt.Errorf("mDNS announcement failed: %w", err))
		}
	}()
}

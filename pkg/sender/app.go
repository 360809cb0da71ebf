package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rescp17/lantransfer/pkg/concurrency"
	"github.com/rescp17/lantransfer/pkg/discovery"
)

var ErrNoTarget = errors.New("either an address or a peer name is required")

// App resolves receivers and pushes files to them, one send at a time.
type App struct {
	guard      *concurrency.ConcurrencyGuard
	discoverer discovery.Adapter
	opts       Options

	// LookupTimeout bounds the mDNS search for a named peer.
	LookupTimeout time.Duration
}

// NewApp creates a new sender application instance.
func NewApp(adapter discovery.Adapter, opts Options) *App {
	return &App{
		guard:         concurrency.NewConcurrencyGuard(),
		discoverer:    adapter,
		opts:          opts,
		LookupTimeout: 5 * time.Second,
	}
}

// Resolve returns the address to dial: addr when set, otherwise the address
// of the receiver advertising peer on the local network.
func (a *App) Resolve(ctx context.Context, addr, peer string) (string, error) {
	if addr != "" {
		return addr, nil
	}
	if peer == "" {
		return "", ErrNoTarget
	}

	service := discovery.ServiceName(discovery.DefaultServerType, discovery.DefaultDomain)
	found, err := discovery.Find(ctx, a.discoverer, service, peer, a.LookupTimeout)
	if err != nil {
		return "", err
	}
	slog.Info("Found receiver", "name", found.Name, "device", found.DeviceName(), "addr", found.Address())
	return found.Address(), nil
}

// SendFiles connects to addr, handshakes and sends every file in order over
// the same connection. It stops at the first failure and returns the
// results gathered so far.
func (a *App) SendFiles(ctx context.Context, addr string, paths []string) ([]*Result, error) {
	var results []*Result
	err := a.guard.ExecuteWithContext(ctx, func(ctx context.Context) error {
		client, err := Dial(ctx, addr, a.opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				slog.Debug("Error closing connection", "error", err)
			}
		}()

		ack, err := client.Handshake(ctx)
		if err != nil {
			return err
		}
		slog.Info("Connected to receiver", "addr", addr, "device", ack.Message)

		for _, path := range paths {
			res, err := client.SendFile(ctx, path)
			if err != nil {
				return fmt.Errorf("failed to send %s: %w", path, err)
			}
			slog.Info("File sent", "fileName", res.FileName, "remotePath", res.FilePath, "duration", res.Duration)
			results = append(results, res)
		}
		return nil
	})
	return results, err
}

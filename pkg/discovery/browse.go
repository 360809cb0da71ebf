package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrPeerNotFound = errors.New("peer not found")

// Collect browses for window and returns the last set of services seen.
func Collect(ctx context.Context, adapter Adapter, service string, window time.Duration) ([]ServiceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var latest []ServiceInfo
	for result := range adapter.Discover(ctx, service) {
		if result.Error != nil {
			return latest, result.Error
		}
		latest = result.Services
	}
	return latest, nil
}

// Find browses until a service whose device or instance name equals name
// (case-insensitively) shows up, or the timeout expires.
func Find(ctx context.Context, adapter Adapter, service, name string, timeout time.Duration) (ServiceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for result := range adapter.Discover(ctx, service) {
		if result.Error != nil {
			return ServiceInfo{}, result.Error
		}
		for _, s := range result.Services {
			if s.Addr == nil {
				continue
			}
			if strings.EqualFold(s.DeviceName(), name) || strings.EqualFold(s.Name, name) {
				return s, nil
			}
		}
	}
	return ServiceInfo{}, fmt.Errorf("%w: %q", ErrPeerNotFound, name)
}

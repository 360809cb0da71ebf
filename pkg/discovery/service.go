package discovery

import (
	"context"
	"net"
	"strconv"
)

const (
	DefaultServerType = "_lantransfer._tcp"
	DefaultDomain     = "local"
)

// TXT record keys published alongside the receiver's port.
const (
	TextDeviceName = "device"
	TextPlatform   = "platform"
	TextProtocol   = "protocol"
)

type ServiceInfo struct {
	Name   string // instance name, e.g. "laptop-1a2b3c4d"
	Type   string // service type, e.g. "_lantransfer._tcp"
	Domain string // domain, e.g. "local"
	Addr   net.IP
	Port   int
	Text   map[string]string
}

// DeviceName returns the advertised device name, falling back to the
// instance name.
func (s ServiceInfo) DeviceName() string {
	if name := s.Text[TextDeviceName]; name != "" {
		return name
	}
	return s.Name
}

// Address is the host:port to dial, or "" when no IP was resolved.
func (s ServiceInfo) Address() string {
	if s.Addr == nil {
		return ""
	}
	return net.JoinHostPort(s.Addr.String(), strconv.Itoa(s.Port))
}

// DiscoveryResult carries either the current set of services or an error.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}

// ServiceName is the fully qualified browse name for a type and domain.
func ServiceName(serviceType, domain string) string {
	return serviceType + "." + domain + "."
}

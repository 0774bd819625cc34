package netguard

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

var (
	// ErrBlockedHost is returned for hostnames that alias the local machine.
	ErrBlockedHost = errors.New("blocked host")
	// ErrBlockedAddress is returned when a host resolves to a non-public address.
	ErrBlockedAddress = errors.New("blocked address")
)

// Guard rejects hosts that are, or resolve to, local or private addresses.
//
// Resolution failures are not rejections: a host that does not resolve cannot
// be privately addressed, and the subsequent fetch reports the failure itself.
type Guard struct {
	resolver Resolver
	logger   *zap.Logger
	deny     *HostDenyList
}

// Option customizes a Guard.
type Option func(*Guard)

// WithDenyList rejects matching hostnames before resolution.
func WithDenyList(list *HostDenyList) Option {
	return func(g *Guard) {
		g.deny = list
	}
}

// NewGuard builds a Guard on top of resolver.
func NewGuard(resolver Resolver, logger *zap.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{resolver: resolver, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check validates hostname before any outbound request is made to it.
func (g *Guard) Check(ctx context.Context, hostname string) error {
	if IsLocalHostName(hostname) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, hostname)
	}
	if g.deny.Denies(hostname) {
		return fmt.Errorf("%w: %s is on the deny list", ErrBlockedHost, hostname)
	}
	host := strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")

	var addrs []netip.Addr
	if literal, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{literal}
	} else {
		resolved, err := g.resolver.LookupNetIP(ctx, host)
		if err != nil {
			g.logger.Debug("resolution failed; deferring to fetch", zap.String("host", host), zap.Error(err))
			return nil
		}
		addrs = resolved
	}

	for _, addr := range addrs {
		if class := Classify(addr); class != Public && class != Unresolvable {
			return fmt.Errorf("%w: %s resolves to %s (%s)", ErrBlockedAddress, host, addr.Unmap(), class)
		}
	}
	return nil
}

// DialControl is a net.Dialer Control hook that refuses connections to
// non-public peers. It inspects the address actually being dialed, so it also
// covers redirects and hosts whose DNS answer changed after Check ran.
func DialControl(network, address string, _ syscall.RawConn) error {
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: unparseable peer %s/%s", ErrBlockedAddress, network, address)
	}
	if class := Classify(addrPort.Addr()); class != Public {
		return fmt.Errorf("%w: dial %s (%s)", ErrBlockedAddress, addrPort.Addr().Unmap(), class)
	}
	return nil
}

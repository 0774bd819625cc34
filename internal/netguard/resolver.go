package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

var errNoAddresses = errors.New("no addresses in answer")

// Resolver performs a forward lookup of a hostname.
type Resolver interface {
	LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// SystemResolver resolves through the operating system's resolver.
type SystemResolver struct {
	resolver *net.Resolver
}

// NewSystemResolver wraps net.DefaultResolver.
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{resolver: net.DefaultResolver}
}

// LookupNetIP implements Resolver.
func (r *SystemResolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	addrs, err := r.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", host, err)
	}
	return addrs, nil
}

// DNSConfig holds upstream DNS resolver configuration.
type DNSConfig struct {
	Servers []string
	Timeout time.Duration
}

// DNSResolver queries upstream DNS servers directly, bypassing the system
// resolver. A records are preferred; AAAA is only asked for when no A record
// exists.
type DNSResolver struct {
	servers []string
	timeout time.Duration
	client  *dns.Client
}

// NewDNSResolver creates a resolver for the configured upstream servers.
func NewDNSResolver(cfg DNSConfig) *DNSResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		servers = append(servers, server)
	}
	return &DNSResolver{
		servers: servers,
		timeout: cfg.Timeout,
		client:  &dns.Client{Timeout: cfg.Timeout},
	}
}

// LookupNetIP implements Resolver.
func (r *DNSResolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := r.query(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		if len(addrs) > 0 {
			return addrs, nil
		}
	}
	if lastErr == nil {
		lastErr = errNoAddresses
	}
	return nil, fmt.Errorf("lookup %s: %w", host, lastErr)
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
		resp, _, err := r.client.ExchangeContext(queryCtx, msg, server)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("%s %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[resp.Rcode])
		}
		return answerAddrs(resp), nil
	}
	if lastErr == nil {
		lastErr = errors.New("no dns servers configured")
	}
	return nil, lastErr
}

func answerAddrs(resp *dns.Msg) []netip.Addr {
	var addrs []netip.Addr
	for _, rr := range resp.Answer {
		var ip net.IP
		switch record := rr.(type) {
		case *dns.A:
			ip = record.A
		case *dns.AAAA:
			ip = record.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}
	return addrs
}

// Package netguard decides whether a hostname or address is safe to fetch from
// the public internet, and rejects the ones that are not.
package netguard

import (
	"net/netip"
	"strconv"
	"strings"
)

// Classification describes the address range a resolved address falls into.
type Classification int

// Classification values.
const (
	Public Classification = iota
	PrivateOrReserved
	Loopback
	LinkLocal
	Unresolvable
)

func (c Classification) String() string {
	switch c {
	case Public:
		return "public"
	case PrivateOrReserved:
		return "private"
	case Loopback:
		return "loopback"
	case LinkLocal:
		return "link-local"
	default:
		return "unresolvable"
	}
}

var localHostNames = map[string]struct{}{
	"localhost": {},
	"0.0.0.0":   {},
	"::1":       {},
}

// IsLocalHostName reports whether name is an obvious alias for the local machine.
func IsLocalHostName(name string) bool {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
	name = strings.TrimSuffix(strings.TrimPrefix(name, "["), "]")
	_, ok := localHostNames[name]
	return ok
}

// IsPrivateIPv4 reports whether a dotted-decimal address lies in 10/8,
// 172.16/12, 192.168/16, 127/8 or 169.254/16. Malformed input is not private.
func IsPrivateIPv4(ip string) bool {
	octets, ok := parseOctets(ip)
	if !ok {
		return false
	}
	a, b := octets[0], octets[1]
	switch {
	case a == 10, a == 127:
		return true
	case a == 172 && b >= 16 && b <= 31:
		return true
	case a == 192 && b == 168:
		return true
	case a == 169 && b == 254:
		return true
	}
	return false
}

// IsPrivateIPv6 reports whether a textual IPv6 address is loopback, unique-local
// (fc00::/7) or link-local (fe80::/10).
func IsPrivateIPv6(ip string) bool {
	lower := strings.ToLower(strings.TrimSpace(ip))
	if lower == "::1" {
		return true
	}
	return strings.HasPrefix(lower, "fc") ||
		strings.HasPrefix(lower, "fd") ||
		strings.HasPrefix(lower, "fe80:")
}

// Classify maps a resolved address to its Classification. IPv4-mapped IPv6
// addresses are classified as the IPv4 address they carry.
func Classify(addr netip.Addr) Classification {
	if !addr.IsValid() {
		return Unresolvable
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() {
		return PrivateOrReserved
	}
	if addr.Is4() {
		if !IsPrivateIPv4(addr.String()) {
			return Public
		}
		switch {
		case addr.IsLoopback():
			return Loopback
		case addr.IsLinkLocalUnicast():
			return LinkLocal
		default:
			return PrivateOrReserved
		}
	}
	text := addr.WithZone("").String()
	if !IsPrivateIPv6(text) {
		return Public
	}
	switch {
	case addr.IsLoopback():
		return Loopback
	case strings.HasPrefix(text, "fe80:"):
		return LinkLocal
	default:
		return PrivateOrReserved
	}
}

func parseOctets(ip string) ([4]int, bool) {
	var out [4]int
	parts := strings.Split(strings.TrimSpace(ip), ".")
	if len(parts) != 4 {
		return out, false
	}
	for i, part := range parts {
		if part == "" || strings.TrimLeft(part, "0123456789") != "" {
			return out, false
		}
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return out, false
		}
		out[i] = n
	}
	return out, true
}

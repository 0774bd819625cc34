package netguard

import (
	"net/netip"
	"testing"
)

func TestIsPrivateIPv4(t *testing.T) {
	t.Parallel()

	private := []string{
		"10.0.0.0", "10.255.255.255", "10.1.2.3",
		"172.16.0.0", "172.20.10.5", "172.31.255.255",
		"192.168.0.1", "192.168.255.255",
		"127.0.0.1", "127.255.255.254",
		"169.254.0.1", "169.254.169.254",
	}
	for _, ip := range private {
		if !IsPrivateIPv4(ip) {
			t.Errorf("IsPrivateIPv4(%q) = false; want true", ip)
		}
	}

	public := []string{
		"8.8.8.8", "1.1.1.1", "172.15.255.255", "172.32.0.0",
		"192.167.1.1", "169.253.1.1", "11.0.0.1",
	}
	for _, ip := range public {
		if IsPrivateIPv4(ip) {
			t.Errorf("IsPrivateIPv4(%q) = true; want false", ip)
		}
	}
}

func TestIsPrivateIPv4Malformed(t *testing.T) {
	t.Parallel()

	for _, ip := range []string{"", "10.0.0", "10.0.0.0.1", "10.a.0.1", "10.0.0.256", "-1.0.0.1", "+10.0.0.1", "..."} {
		if IsPrivateIPv4(ip) {
			t.Errorf("IsPrivateIPv4(%q) = true; malformed input must not be private", ip)
		}
	}
}

func TestIsPrivateIPv6(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"::1":                  true,
		"fc00::1":              true,
		"FD12:3456::1":         true,
		"fe80::1":              true,
		"FE80::abcd":           true,
		"2001:4860:4860::8888": false,
		"2606:4700::1111":      false,
		"fe90::1":              false,
	}
	for ip, want := range cases {
		if got := IsPrivateIPv6(ip); got != want {
			t.Errorf("IsPrivateIPv6(%q) = %v; want %v", ip, got, want)
		}
	}
}

func TestIsLocalHostName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"localhost", "LOCALHOST", "LocalHost", "0.0.0.0", "::1", "[::1]", "localhost."} {
		if !IsLocalHostName(name) {
			t.Errorf("IsLocalHostName(%q) = false; want true", name)
		}
	}
	for _, name := range []string{"example.com", "localhost.example.com", "127.0.0.1", ""} {
		if IsLocalHostName(name) {
			t.Errorf("IsLocalHostName(%q) = true; want false", name)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		addr string
		want Classification
	}{
		{"8.8.8.8", Public},
		{"10.0.0.1", PrivateOrReserved},
		{"172.16.5.4", PrivateOrReserved},
		{"127.0.0.1", Loopback},
		{"169.254.169.254", LinkLocal},
		{"0.0.0.0", PrivateOrReserved},
		{"::ffff:127.0.0.1", Loopback},
		{"::ffff:8.8.8.8", Public},
		{"::1", Loopback},
		{"fe80::1", LinkLocal},
		{"fd00::1", PrivateOrReserved},
		{"2001:4860:4860::8888", Public},
	}
	for _, tc := range cases {
		if got := Classify(netip.MustParseAddr(tc.addr)); got != tc.want {
			t.Errorf("Classify(%s) = %s; want %s", tc.addr, got, tc.want)
		}
	}
	if got := Classify(netip.Addr{}); got != Unresolvable {
		t.Errorf("Classify(zero) = %s; want unresolvable", got)
	}
}

func FuzzIsPrivateIPv4(f *testing.F) {
	for _, seed := range []string{"10.0.0.1", "8.8.8.8", "999.1.1.1", "a.b.c.d"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, ip string) {
		got := IsPrivateIPv4(ip)
		addr, err := netip.ParseAddr(ip)
		if err != nil || !addr.Is4() {
			return
		}
		want := Classify(addr) != Public && !addr.IsUnspecified()
		if got != want {
			t.Errorf("IsPrivateIPv4(%q) = %v; Classify disagrees", ip, got)
		}
	})
}

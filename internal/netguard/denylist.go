package netguard

import "strings"

// HostDenyList matches hostnames against exact entries and suffix wildcards
// ("*.internal" or ".internal").
type HostDenyList struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostDenyList builds a HostDenyList from patterns. It returns nil when no
// usable pattern is given; a nil list denies nothing.
func NewHostDenyList(patterns []string) *HostDenyList {
	list := &HostDenyList{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := normalizeHost(raw)
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			list.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			list.addSuffix(strings.TrimPrefix(value, "."))
		default:
			list.exact[value] = struct{}{}
		}
	}
	if len(list.exact) == 0 && len(list.suffixes) == 0 {
		return nil
	}
	return list
}

func (l *HostDenyList) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range l.suffixes {
		if existing == suffix {
			return
		}
	}
	l.suffixes = append(l.suffixes, suffix)
}

// Denies reports whether host matches any pattern.
func (l *HostDenyList) Denies(host string) bool {
	if l == nil {
		return false
	}
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	if _, exact := l.exact[host]; exact {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

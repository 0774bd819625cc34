package gateway

import (
	"errors"
	"net/url"
	"strings"

	whatwgUrl "github.com/nlnwa/whatwg-url/url"
)

// urlParser matches the parser the collector applies before every request,
// so the host the guard sees is the host that gets dialed.
var urlParser = whatwgUrl.NewParser(whatwgUrl.WithPercentEncodeSinglePercentSign())

// normalizeURL parses raw with WHATWG rules and returns the serialized
// result. Shorthand IPv4 forms such as 0x7f.1, 2130706433 and 127.1 come
// back in dotted-quad form.
func normalizeURL(raw string) (*url.URL, error) {
	parsed, err := urlParser.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(parsed.Href(false))
	if err != nil {
		return nil, err
	}
	if !target.IsAbs() {
		return nil, errors.New("url is not absolute")
	}
	return target, nil
}

// Package fetcher implements a timeout-bounded HTTP GET using gocolly.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrRequestTimeout is returned when a fetch does not complete within its budget.
var ErrRequestTimeout = errors.New("request timed out")

const (
	// DefaultTimeout bounds fetches that do not specify their own budget.
	DefaultTimeout = 15 * time.Second
	maxRedirects   = 10
)

// Config controls fetch behavior shared by every call.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	MaxBodyBytes   int
	// DialControl, when set, runs against every peer address before connecting.
	DialControl func(network, address string, c syscall.RawConn) error
	// RedirectCheck, when set, must approve each redirect target before it is followed.
	RedirectCheck func(ctx context.Context, target *url.URL) error
}

// Options carries per-call request settings.
type Options struct {
	Headers http.Header
	// MaxBodyBytes, when positive, replaces Config.MaxBodyBytes for this call.
	MaxBodyBytes int
}

// Response is a completed upstream exchange, whatever its status.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the upstream status is 2xx.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type stopper interface {
	Stop() bool
}

// Fetcher issues GET requests bounded by an explicit timer. A fresh collector
// is built per call, so concurrent calls share nothing but the connection pool.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	afterFunc func(time.Duration, func()) stopper
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(cfg.DialControl),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Fetch retrieves rawURL. The request is aborted once timeout elapses and the
// call fails with ErrRequestTimeout. The timer is stopped on every return path.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := f.afterFunc(timeout, func() { cancel(ErrRequestTimeout) })
	defer timer.Stop()

	var (
		result Response
		got    bool
	)
	start := time.Now()
	collector := f.newCollector(ctx, opts.MaxBodyBytes)
	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.Headers != nil {
			result.Header = r.Headers.Clone()
		}
		got = true
	})

	err := collector.Request(http.MethodGet, rawURL, nil, nil, f.headers(opts.Headers))
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrRequestTimeout) {
			return Response{}, fmt.Errorf("%w after %s: %s", ErrRequestTimeout, timeout, rawURL)
		}
		return Response{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if !got {
		return Response{}, fmt.Errorf("fetch %s: no response", rawURL)
	}
	return result, nil
}

func (f *Fetcher) newCollector(ctx context.Context, maxBody int) *colly.Collector {
	if maxBody <= 0 {
		maxBody = f.cfg.MaxBodyBytes
	}
	c := colly.NewCollector()
	c.UserAgent = f.cfg.UserAgent
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = maxBody
	// Cancellation is driven by the per-call timer, not the client timeout.
	// Every request, redirects included, carries ctx.
	c.SetRequestTimeout(0)
	c.Context = ctx
	c.WithTransport(&tracingTransport{base: f.transport})
	if f.cfg.RedirectCheck != nil {
		c.SetRedirectHandler(f.checkRedirect)
	}
	return c
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if err := f.cfg.RedirectCheck(req.Context(), req.URL); err != nil {
		return fmt.Errorf("redirect to %s rejected: %w", req.URL.Redacted(), err)
	}
	return nil
}

// headers merges caller headers over the base set.
func (f *Fetcher) headers(extra http.Header) http.Header {
	hdr := http.Header{}
	if f.cfg.UserAgent != "" {
		hdr.Set("User-Agent", f.cfg.UserAgent)
	}
	if f.cfg.AcceptLanguage != "" {
		hdr.Set("Accept-Language", f.cfg.AcceptLanguage)
	}
	for key, values := range extra {
		hdr.Del(key)
		for _, v := range values {
			hdr.Add(key, v)
		}
	}
	return hdr
}

// tracingTransport injects the caller's trace context into each outbound hop.
type tracingTransport struct {
	base http.RoundTripper
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("roundtrip: %w", err)
	}
	return resp, nil
}

func newHTTPTransport(control func(network, address string, c syscall.RawConn) error) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   control,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

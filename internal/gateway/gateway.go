// Package gateway composes host validation, robots policy and the bounded
// fetcher into a single request pipeline.
//
// Every call is validated from scratch. Nothing is cached or shared between
// calls beyond the injected collaborators.
package gateway

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/fetcher"
	"github.com/JakeFAU/fetchgate/internal/metrics"
	"github.com/JakeFAU/fetchgate/internal/netguard"
)

// Stage names a step of the pipeline.
type Stage string

// Pipeline stages, in order.
const (
	StageParseURL         Stage = "parse_url"
	StageValidateProtocol Stage = "validate_protocol"
	StageGuardHost        Stage = "guard_host"
	StageCheckRobots      Stage = "check_robots"
	StageFetchTarget      Stage = "fetch_target"
	StageDone             Stage = "done"
)

// Guard rejects hosts that must not be contacted.
type Guard interface {
	Check(ctx context.Context, hostname string) error
}

// RobotsPolicy decides whether a target may be crawled.
type RobotsPolicy interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// Fetcher performs the bounded outbound request.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetcher.Options, timeout time.Duration) (fetcher.Response, error)
}

// Config holds the gateway's read-only settings.
type Config struct {
	AllowedSchemes []string
	FetchTimeout   time.Duration
}

// DefaultSchemes are used when Config.AllowedSchemes is empty.
var DefaultSchemes = []string{"http", "https"}

// Result is a successful fetch.
type Result struct {
	URL        string
	StatusCode int
	HTML       string
}

// Gateway runs the fetch pipeline.
type Gateway struct {
	guard   Guard
	robots  RobotsPolicy
	fetcher Fetcher
	schemes schemeSet
	timeout time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer
}

const tracerName = "github.com/JakeFAU/fetchgate/internal/gateway"

// New wires a Gateway.
func New(guard Guard, robots RobotsPolicy, f Fetcher, cfg Config, logger *zap.Logger) *Gateway {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = fetcher.DefaultTimeout
	}
	return &Gateway{
		guard:   guard,
		robots:  robots,
		fetcher: f,
		schemes: newSchemeSet(cfg.AllowedSchemes),
		timeout: cfg.FetchTimeout,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Fetch runs rawURL through every stage. The first failing stage ends the
// call with an *Error.
func (g *Gateway) Fetch(ctx context.Context, rawURL string) (Result, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Fetch", trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	start := time.Now()
	result, stage, err := g.run(ctx, rawURL)
	g.record(rawURL, stage, start, err)
	span.SetAttributes(attribute.String("gateway.stage", string(stage)))
	if err != nil {
		span.RecordError(err)
		if gwErr, ok := AsError(err); ok {
			span.SetAttributes(attribute.String("gateway.error_kind", string(gwErr.Kind)))
		}
		span.SetStatus(codes.Error, "fetch failed")
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", result.StatusCode))
	return result, nil
}

func (g *Gateway) run(ctx context.Context, rawURL string) (Result, Stage, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return Result{}, StageParseURL, malformedURL(err)
	}

	if !g.schemes.allows(target.Scheme) {
		return Result{}, StageValidateProtocol, unsupportedProtocol(target.Scheme, nil)
	}
	if target.Hostname() == "" {
		return Result{}, StageValidateProtocol, malformedURL(errors.New("url has no host"))
	}

	if err := g.guard.Check(ctx, target.Hostname()); err != nil {
		return Result{}, StageGuardHost, classifyBlocked(err)
	}

	if !g.robots.Allowed(ctx, target) {
		return Result{}, StageCheckRobots, robotsDisallowed()
	}

	resp, err := g.fetcher.Fetch(ctx, target.String(), fetcher.Options{}, g.timeout)
	if err != nil {
		return Result{}, StageFetchTarget, classifyFetch(target.Scheme, err)
	}
	metrics.ObserveUpstreamFetch(metrics.TargetPage, resp.Duration)
	metrics.ObserveUpstreamStatus(resp.StatusCode)
	if !resp.OK() {
		return Result{}, StageFetchTarget, upstreamError(resp.StatusCode)
	}

	return Result{URL: resp.URL, StatusCode: resp.StatusCode, HTML: string(resp.Body)}, StageDone, nil
}

func (g *Gateway) record(rawURL string, stage Stage, start time.Time, err error) {
	fields := []zap.Field{
		zap.String("url", rawURL),
		zap.String("stage", string(stage)),
		zap.Duration("duration", time.Since(start)),
	}
	if err == nil {
		metrics.ObserveGatewayOutcome("ok")
		g.logger.Info("fetch completed", fields...)
		return
	}

	gwErr, ok := AsError(err)
	if !ok {
		gwErr = internalError(err)
	}
	metrics.ObserveGatewayOutcome(string(gwErr.Kind))
	fields = append(fields, zap.String("kind", string(gwErr.Kind)), zap.Int("status", gwErr.Status), zap.Error(err))

	switch gwErr.Kind {
	case KindBlockedHost, KindBlockedAddress:
		metrics.ObserveGuardRejection(string(gwErr.Kind))
		g.logger.Warn("fetch rejected", fields...)
	case KindInternalError:
		g.logger.Error("fetch failed", fields...)
	default:
		g.logger.Info("fetch rejected", fields...)
	}
}

func classifyBlocked(err error) *Error {
	switch {
	case errors.Is(err, netguard.ErrBlockedHost):
		return blockedHost(err)
	case errors.Is(err, netguard.ErrBlockedAddress):
		return blockedAddress(err)
	default:
		return internalError(err)
	}
}

// classifyFetch maps fetcher failures. Blocked errors here come from the
// dial-time check or redirect revalidation.
func classifyFetch(scheme string, err error) *Error {
	switch {
	case errors.Is(err, fetcher.ErrRequestTimeout):
		return requestTimeout(err)
	case errors.Is(err, netguard.ErrBlockedHost), errors.Is(err, netguard.ErrBlockedAddress):
		return classifyBlocked(err)
	case errors.Is(err, ErrRedirectProtocol):
		return unsupportedProtocol(scheme, err)
	default:
		return internalError(err)
	}
}

type schemeSet map[string]struct{}

func newSchemeSet(schemes []string) schemeSet {
	if len(schemes) == 0 {
		schemes = DefaultSchemes
	}
	set := make(schemeSet, len(schemes))
	for _, s := range schemes {
		set[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return set
}

func (s schemeSet) allows(scheme string) bool {
	_, ok := s[strings.ToLower(scheme)]
	return ok
}

package robots

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/fetcher"
	"github.com/JakeFAU/fetchgate/internal/metrics"
)

// DefaultTimeout bounds the robots.txt fetch.
const DefaultTimeout = 5 * time.Second

// Fetcher retrieves robots.txt.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetcher.Options, timeout time.Duration) (fetcher.Response, error)
}

// Config controls robots enforcement.
type Config struct {
	Enabled    bool
	AgentToken string
	Timeout    time.Duration
	MaxBytes   int64
}

// Decision explains the outcome of a robots check.
type Decision struct {
	Allowed bool
	// Result is one of the metrics.Robots* values.
	Result string
	// Rule is the Disallow prefix that matched, if any.
	Rule string
}

// Evaluator fetches robots.txt fresh on every check; nothing is cached.
type Evaluator struct {
	fetcher Fetcher
	parser  *Parser
	cfg     Config
	logger  *zap.Logger
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(f Fetcher, cfg Config, logger *zap.Logger) *Evaluator {
	metrics.Init()
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		fetcher: f,
		parser:  NewParser(cfg.AgentToken),
		cfg:     cfg,
		logger:  logger,
	}
}

// Allowed reports whether target may be fetched.
func (e *Evaluator) Allowed(ctx context.Context, target *url.URL) bool {
	return e.Check(ctx, target).Allowed
}

// Check evaluates target against its origin's robots.txt. A missing,
// unreachable or unreadable robots.txt allows everything.
func (e *Evaluator) Check(ctx context.Context, target *url.URL) Decision {
	decision := e.check(ctx, target)
	metrics.ObserveRobotsCheck(decision.Result)
	return decision
}

func (e *Evaluator) check(ctx context.Context, target *url.URL) Decision {
	if !e.cfg.Enabled {
		return Decision{Allowed: true, Result: metrics.RobotsSkipped}
	}
	robotsURL := URL(target)
	resp, err := e.fetcher.Fetch(ctx, robotsURL, fetcher.Options{MaxBodyBytes: int(e.cfg.MaxBytes)}, e.cfg.Timeout)
	if resp.Duration > 0 {
		metrics.ObserveUpstreamFetch(metrics.TargetRobots, resp.Duration)
	}
	if err != nil {
		e.logger.Warn("robots fetch failed; allowing access", zap.String("robots_url", robotsURL), zap.Error(err))
		return Decision{Allowed: true, Result: metrics.RobotsUnavailable}
	}
	if !resp.OK() {
		e.logger.Debug("robots.txt not available; allowing access",
			zap.String("robots_url", robotsURL), zap.Int("status", resp.StatusCode))
		return Decision{Allowed: true, Result: metrics.RobotsUnavailable}
	}

	var body io.Reader = bytes.NewReader(resp.Body)
	if e.cfg.MaxBytes > 0 {
		body = io.LimitReader(body, e.cfg.MaxBytes)
	}
	rules, err := e.parser.Parse(body)
	if err != nil {
		e.logger.Warn("robots parse failed; allowing access", zap.String("robots_url", robotsURL), zap.Error(err))
		return Decision{Allowed: true, Result: metrics.RobotsUnavailable}
	}

	if rule, blocked := rules.Match(Path(target)); blocked {
		return Decision{Allowed: false, Result: metrics.RobotsDisallowed, Rule: rule}
	}
	return Decision{Allowed: true, Result: metrics.RobotsAllowed}
}

// URL returns the robots.txt location for target's origin.
func URL(target *url.URL) string {
	robotsURL := url.URL{
		Scheme: target.Scheme,
		Host:   target.Host,
		Path:   "/robots.txt",
	}
	return robotsURL.String()
}

// Path returns the escaped path rules are matched against.
func Path(target *url.URL) string {
	if p := target.EscapedPath(); p != "" {
		return p
	}
	return "/"
}

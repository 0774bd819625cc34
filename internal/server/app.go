// Package server builds the gateway's dependencies from configuration and runs
// the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/fetchgate/internal/api"
	"github.com/JakeFAU/fetchgate/internal/config"
	"github.com/JakeFAU/fetchgate/internal/fetcher"
	"github.com/JakeFAU/fetchgate/internal/gateway"
	"github.com/JakeFAU/fetchgate/internal/id/uuid"
	"github.com/JakeFAU/fetchgate/internal/logging"
	"github.com/JakeFAU/fetchgate/internal/metrics"
	"github.com/JakeFAU/fetchgate/internal/netguard"
	"github.com/JakeFAU/fetchgate/internal/robots"
	"github.com/JakeFAU/fetchgate/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	gateway   *gateway.Gateway
	apiServer *api.Server
	tracer    *sdktrace.TracerProvider
}

// Build creates the application's dependencies. Nothing is shared between
// requests except the connection pool inside the fetcher.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	// Only non-sensitive fields are logged.
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Strings("allowed_schemes", cfg.Gateway.AllowedSchemes),
		zap.Bool("robots_enabled", cfg.Robots.Enabled),
		zap.Bool("dial_check", cfg.Guard.DialCheck),
		zap.Bool("revalidate_redirects", cfg.Guard.RevalidateRedirects),
		zap.Int("dns_servers", len(cfg.Guard.DNSServers)),
		zap.Strings("deny_hosts", cfg.Guard.DenyHosts),
		zap.String("trace_exporter", cfg.Tracing.Exporter),
	)

	traceOpts, err := telemetry.ProviderOptions(telemetry.Config{
		Exporter:    cfg.Tracing.Exporter,
		SampleRatio: cfg.Tracing.SampleRatio,
		Writer:      os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer options: %w", err)
	}
	tp, err := telemetry.InitTracerProvider(ctx, logging.ServiceName, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	guard := netguard.NewGuard(newResolver(cfg.Guard), logger.Named("guard"),
		netguard.WithDenyList(netguard.NewHostDenyList(cfg.Guard.DenyHosts)))

	fetchCfg := fetcher.Config{
		UserAgent:      cfg.Gateway.UserAgent,
		AcceptLanguage: cfg.Gateway.AcceptLanguage,
		MaxBodyBytes:   cfg.Gateway.MaxBodyBytes,
	}
	if cfg.Guard.DialCheck {
		fetchCfg.DialControl = netguard.DialControl
	}
	if cfg.Guard.RevalidateRedirects {
		fetchCfg.RedirectCheck = gateway.NewRedirectValidator(guard, cfg.Gateway.AllowedSchemes)
	}
	pageFetcher := fetcher.New(fetchCfg)

	policy := robots.NewEvaluator(pageFetcher, robots.Config{
		Enabled:    cfg.Robots.Enabled,
		AgentToken: cfg.Gateway.AgentToken,
		Timeout:    cfg.Robots.Timeout,
		MaxBytes:   cfg.Robots.MaxBytes,
	}, logger.Named("robots"))

	gw := gateway.New(guard, policy, pageFetcher, gateway.Config{
		AllowedSchemes: cfg.Gateway.AllowedSchemes,
		FetchTimeout:   cfg.Gateway.FetchTimeout,
	}, logger.Named("gateway"))

	return &App{
		cfg:       cfg,
		logger:    logger,
		gateway:   gw,
		apiServer: api.NewServer(gw, uuid.New(), *cfg, logger.Named("api")),
		tracer:    tp,
	}, nil
}

func newResolver(cfg config.GuardConfig) netguard.Resolver {
	if len(cfg.DNSServers) == 0 {
		return netguard.NewSystemResolver()
	}
	return netguard.NewDNSResolver(netguard.DNSConfig{
		Servers: cfg.DNSServers,
		Timeout: cfg.DNSTimeout,
	})
}

// Gateway exposes the orchestrator for one-shot use outside the HTTP server.
func (a *App) Gateway() *gateway.Gateway {
	return a.gateway
}

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured port and blocks until the context is canceled
// or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is done, then shuts it down
// gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		a.logger.Info("shutdown complete")
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Close flushes and stops the tracer provider.
func (a *App) Close(ctx context.Context) error {
	if a.tracer == nil {
		return nil
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer shutdown: %w", err)
	}
	return nil
}

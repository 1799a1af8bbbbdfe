// Package main is the entry point for the ccip server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool and apply schema migrations.
//  3. Create the repository and service (eagerly loading the ruleset cache).
//  4. Wrap the admin endpoints with bearer key authentication.
//  5. Start the HTTP server and wait for SIGINT/SIGTERM, then shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CCIP-App/ccip-server/internal/config"
	"github.com/CCIP-App/ccip-server/internal/logging"
	"github.com/CCIP-App/ccip-server/internal/metrics"
	"github.com/CCIP-App/ccip-server/internal/middleware"
	"github.com/CCIP-App/ccip-server/internal/repository"
	"github.com/CCIP-App/ccip-server/internal/server"
	"github.com/CCIP-App/ccip-server/internal/service"
	"github.com/CCIP-App/ccip-server/internal/tracing"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		return err
	}

	repo := repository.NewPostgresRepository(pool)
	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	clock := service.SystemClock()
	if cfg.MockNow != nil {
		clock = service.FixedClock(*cfg.MockNow)
		log.Warn("evaluation clock pinned", "now", cfg.MockNow.Format(time.RFC3339))
	}

	svc, err := service.New(ctx, repo, repo, repo,
		service.WithLogger(log),
		service.WithClock(clock),
		service.WithCacheMetrics(m),
		service.WithUsageMetrics(m),
		service.WithCacheResyncInterval(cfg.CacheResyncInterval),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer rateLimiter.Stop()

	apiHandler := server.NewHTTPHandler(svc, m, server.WithMaxJSONBodySize(cfg.MaxJSONBodySize))
	adminValidator := middleware.NewAdminKeyValidator(cfg.AdminKeyHash)
	httpHandler := newHTTPHandler(apiHandler, adminValidator,
		middleware.WithOnAuthFailure(m.AuthFailuresTotal.Inc),
		middleware.WithRateLimiter(rateLimiter),
	)
	httpHandler = middleware.HTTPRequestLogging(log)(httpHandler)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler, "ccip-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr, "admin_enabled", cfg.AdminKeyHash != "")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	return serveErr
}

// newHTTPHandler wraps the admin routes with bearer key authentication while
// leaving the attendee-facing routes public. Attendee identity travels as a
// token query parameter, not as an Authorization header.
func newHTTPHandler(apiHandler http.Handler, validator middleware.TokenValidator, opts ...middleware.AuthOption) http.Handler {
	protected := middleware.HTTPBearerAuthMiddleware(validator, opts...)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("POST /announcement", protected)
	mux.Handle("PUT /admin/ruleset", protected)
	mux.Handle("/", apiHandler)

	return mux
}

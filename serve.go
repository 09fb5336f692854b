package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"tasks-api/api"
	"tasks-api/config"
	"tasks-api/domain"
	"tasks-api/storage"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger, err := loadRuntime(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := newTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	otel.SetTracerProvider(tp)

	store, err := storage.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return err
		}
	}

	cache := storage.NewCache(storage.NewRedisClient(cfg.Redis))
	if err := cache.Ping(ctx); err != nil {
		// Requests still succeed against the store while Redis is down.
		logger.WithError(err).Warn("redis unreachable at startup")
	}

	auth, err := api.NewAuth(cfg.Auth, logger)
	if err != nil {
		_ = cache.Close()
		_ = store.Close()
		return fmt.Errorf("auth: %w", err)
	}

	svc := domain.NewTaskService(store, cache, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(api.RequestIDMiddleware())
	e.Use(api.GzipRequestMiddleware())
	api.Register(e, svc, auth, map[string]api.Pinger{"postgres": store, "redis": cache}, logger)

	broker := api.NewEventBroker()
	api.RegisterStream(e, broker, auth, logger)
	subCtx, stopSub := context.WithCancel(ctx)
	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		cache.SubscribeEvents(subCtx, logger, broker.Broadcast)
	}()

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", listenAddr).Info("listening")
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
		logger.WithError(err).Error("server stopped")
	}

	stopSub()
	<-subDone
	broker.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		logger.WithError(serr).Error("http shutdown")
	}
	auth.Close()
	if cerr := cache.Close(); cerr != nil {
		logger.WithError(cerr).Error("redis close")
	}
	if cerr := store.Close(); cerr != nil {
		logger.WithError(cerr).Error("postgres close")
	}
	if terr := tp.Shutdown(shutdownCtx); terr != nil {
		logger.WithError(terr).Error("tracer shutdown")
	}
	return err
}

// newTracerProvider exports spans over OTLP/HTTP when an endpoint is
// configured and otherwise keeps them in-process.
func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig) (*sdktrace.TracerProvider, error) {
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

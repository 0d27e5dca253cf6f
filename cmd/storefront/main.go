package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/tanngo729/storefront-gateway/internal/di"
	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/handlers"
	"github.com/tanngo729/storefront-gateway/internal/livesync"
	"github.com/tanngo729/storefront-gateway/internal/platform/auth"
	"github.com/tanngo729/storefront-gateway/internal/platform/config"
	"github.com/tanngo729/storefront-gateway/internal/platform/observability"
	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
)

const staleSweepInterval = time.Minute

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	instanceID := ulid.Make().String()
	logger := baseLogger.Named("storefront").With(zap.String("instance_id", instanceID))
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// Spans are recorded for trace-id propagation and log correlation;
	// no exporter is configured, so they are dropped on completion.
	tracerProvider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tracerProvider)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to assemble dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	// Background workers: stale handoff sweep and the live event channel.
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	go func() {
		// Sweep once on startup so handoffs orphaned by a previous run
		// are released before the first tick.
		container.Bridge.SweepStale(workerCtx)
		ticker := time.NewTicker(staleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				container.Bridge.SweepStale(workerCtx)
			}
		}
	}()

	if container.Sync != nil {
		unsubscribe := container.Sync.Subscribe(func(event livesync.Event) {
			applyEvent(workerCtx, container, event)
		})
		defer unsubscribe()
		go func() {
			if err := container.Sync.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("live sync stopped", zap.Error(err))
			}
		}()
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessCheck("state_store", container.PingStore),
	)

	cartHandlers := handlers.NewCartHandlers(container.Cache, container.Reconciler, container.Remote)
	checkoutHandlers := handlers.NewCheckoutHandlers(container.Checkout)
	paymentHandlers := handlers.NewPaymentHandlers(container.Bridge, container.Checkout)
	notificationHandlers := handlers.NewNotificationHandlers(container.Notifications)
	syncHandlers := handlers.NewSyncHandlers(nil)
	if container.Sync != nil {
		syncHandlers = handlers.NewSyncHandlers(container.Sync)
	}
	sessionHandlers := handlers.NewSessionHandlers(container.Checkout, container.Notifications, container.Cache, container.Reconciler)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAPIMiddlewares(auth.RequireSession(auth.RoleCustomer, auth.RoleAdmin)),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithNotificationRoutes(notificationHandlers.Routes),
		handlers.WithSyncRoutes(syncHandlers.Routes),
		handlers.WithSessionRoutes(sessionHandlers.Routes),
		handlers.WithPaymentReturnRoutes(paymentHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "storefront-gateway"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	workerCancel()
	container.Reconciler.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// applyEvent folds a channel event into local state: order events
// invalidate the owning user's cart snapshot, notification events merge
// into that user's feed.
func applyEvent(ctx context.Context, container *di.Container, event livesync.Event) {
	if event.UserID != "" {
		ctx = requestctx.WithIdentity(ctx, requestctx.Identity{UID: event.UserID})
	}
	switch event.Name {
	case "customerNotification", "adminNotification":
		if event.Notification != nil {
			container.Notifications.Merge(ctx, *event.Notification)
		}
	case "newOrder":
		// An order placed through another frontend consumes cart stock.
		if event.UserID != "" {
			container.Cache.InvalidateUser(event.UserID)
		}
	case "orderStatusUpdate":
		if event.OrderStatus != domain.OrderStatusCancelled {
			return
		}
		if event.UserID != "" {
			container.Cache.InvalidateUser(event.UserID)
		} else {
			container.Cache.InvalidateAll()
		}
	}
}

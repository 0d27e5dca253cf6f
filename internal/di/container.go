// Package di assembles the gateway's runtime dependency graph.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tanngo729/storefront-gateway/internal/cartcache"
	"github.com/tanngo729/storefront-gateway/internal/livesync"
	"github.com/tanngo729/storefront-gateway/internal/payments"
	"github.com/tanngo729/storefront-gateway/internal/platform/config"
	"github.com/tanngo729/storefront-gateway/internal/platform/kvstore"
	"github.com/tanngo729/storefront-gateway/internal/platform/observability"
	"github.com/tanngo729/storefront-gateway/internal/reconciler"
	"github.com/tanngo729/storefront-gateway/internal/remote"
	"github.com/tanngo729/storefront-gateway/internal/services"
)

// Container wires the remote client, caches, payment bridge, services,
// and the live event channel for runtime use.
type Container struct {
	Config        config.Config
	Remote        *remote.Client
	Store         kvstore.Store
	Cache         *cartcache.Cache
	Reconciler    *reconciler.Reconciler
	Bridge        *payments.Bridge
	Payments      *payments.Manager
	Checkout      services.CheckoutService
	Notifications services.NotificationService
	Sync          *livesync.Synchronizer

	redisClient *redis.Client
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		return nil, errors.New("di: logger is required")
	}
	events := observability.EventLogger(logger)

	c := &Container{Config: cfg}

	store, redisClient, err := buildStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	c.Store = store
	c.redisClient = redisClient

	c.Remote, err = remote.NewClient(remote.ClientDeps{
		BaseURL:       cfg.Remote.BaseURL,
		Timeout:       cfg.Remote.Timeout,
		UploadTimeout: cfg.Remote.UploadTimeout,
		MaxRetries:    cfg.Remote.MaxRetries,
		Logger:        events,
	})
	if err != nil {
		return nil, fmt.Errorf("di: remote client: %w", err)
	}

	c.Cache, err = cartcache.New(cartcache.Deps{
		Fetcher: c.Remote,
		TTL:     cfg.Cart.CacheTTL,
		Clock:   time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("di: cart cache: %w", err)
	}

	c.Reconciler, err = reconciler.New(reconciler.Deps{
		Mutator:       c.Remote,
		Cache:         c.Cache,
		DebounceDelay: cfg.Cart.DebounceDelay,
		Logger:        events,
	})
	if err != nil {
		return nil, fmt.Errorf("di: reconciler: %w", err)
	}

	c.Bridge, err = payments.NewBridge(payments.BridgeDeps{
		Client:       c.Remote,
		Store:        c.Store,
		HashSecret:   cfg.VNPay.HashSecret,
		ReturnURL:    cfg.VNPay.ReturnURL,
		CancelURL:    cfg.VNPay.CancelURL,
		MarkerMaxAge: cfg.VNPay.MarkerMaxAge,
		Clock:        time.Now,
		Logger:       events,
	})
	if err != nil {
		return nil, fmt.Errorf("di: payment bridge: %w", err)
	}

	cod, err := payments.NewCODProvider(c.Remote)
	if err != nil {
		return nil, fmt.Errorf("di: cod provider: %w", err)
	}
	vnpay, err := payments.NewVNPayProvider(c.Bridge)
	if err != nil {
		return nil, fmt.Errorf("di: vnpay provider: %w", err)
	}
	c.Payments, err = payments.NewManager(map[string]payments.Provider{
		"cod":   cod,
		"vnpay": vnpay,
	})
	if err != nil {
		return nil, fmt.Errorf("di: payment manager: %w", err)
	}

	c.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Cart:      c.Cache,
		Validator: c.Remote,
		Payments:  c.Payments,
		Store:     c.Store,
		Clock:     time.Now,
		Logger:    events,
	})
	if err != nil {
		return nil, fmt.Errorf("di: checkout service: %w", err)
	}

	c.Notifications, err = services.NewNotificationService(services.NotificationServiceDeps{
		Client:   c.Remote,
		Store:    c.Store,
		PinLimit: cfg.Sync.PinLimit,
		Clock:    time.Now,
		Logger:   events,
	})
	if err != nil {
		return nil, fmt.Errorf("di: notification service: %w", err)
	}

	if cfg.Sync.URL != "" {
		c.Sync, err = livesync.New(livesync.Deps{
			Dial:        livesync.WebsocketDialer(),
			URL:         cfg.Sync.URL,
			Token:       cfg.Sync.Token,
			Rooms:       cfg.Sync.Rooms,
			MaxAttempts: cfg.Sync.MaxAttempts,
			Backoff:     cfg.Sync.Backoff,
			Clock:       time.Now,
			Logger:      events,
		})
		if err != nil {
			return nil, fmt.Errorf("di: live sync: %w", err)
		}
	}

	return c, nil
}

// Close releases background workers and backend clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Reconciler != nil {
		c.Reconciler.Close()
	}
	if c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}

// PingStore probes the state backend for readiness checks.
func (c *Container) PingStore(ctx context.Context) error {
	if c.redisClient != nil {
		return c.redisClient.Ping(ctx).Err()
	}
	_, err := c.Store.Get(ctx, kvstore.KeyPendingGatewayOrder)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil
	}
	return err
}

func buildStore(cfg config.Store) (kvstore.Store, *redis.Client, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		store, err := kvstore.NewRedis(client)
		if err != nil {
			return nil, nil, fmt.Errorf("di: redis store: %w", err)
		}
		return store, client, nil
	case "memory":
		return kvstore.NewMemory(), nil, nil
	default:
		store, err := kvstore.NewFile(cfg.FilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("di: file store: %w", err)
		}
		return store, nil, nil
	}
}

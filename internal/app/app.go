// Package app assembles the relay core shared by cmd/relay and cmd/relay-worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"golang.org/x/time/rate"

	"tgrelay/internal/awsutil"
	"tgrelay/internal/blob"
	"tgrelay/internal/config"
	"tgrelay/internal/fanout"
	"tgrelay/internal/gateway"
	"tgrelay/internal/identity"
	"tgrelay/internal/relay"
	"tgrelay/internal/store"
	"tgrelay/internal/store/memory"
	"tgrelay/internal/store/pg"
	"tgrelay/internal/telegram"
)

type Options struct {
	Postgres config.Postgres
	Telegram config.Telegram
	AWS      config.AWS
	Blob     config.Blob
	Logger   *slog.Logger
}

type Core struct {
	Store    store.ConversationStore
	Telegram *telegram.Client
	Blobs    blob.Store
	Hub      *fanout.Hub
	Fanout   *fanout.Fanout
	Gateway  *gateway.Gateway
	Relay    *relay.Relay
	AWS      aws.Config

	closers []func()
}

// Build opens the store, connects to Telegram and wires gateway, fanout and relay.
func Build(ctx context.Context, o Options) (*Core, error) {
	c := &Core{}
	awsCfg, err := awsutil.LoadConfig(ctx, o.AWS.Region, o.AWS.LocalstackEndpoint)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	c.AWS = awsCfg

	st, closeStore, err := OpenStore(ctx, o.Postgres, o.Logger)
	if err != nil {
		return nil, err
	}
	c.Store = st
	c.closers = append(c.closers, closeStore)

	c.Blobs = OpenBlobs(awsCfg, o.AWS, o.Blob)

	telegram.SetLogger(o.Logger)
	tg, err := telegram.New(telegram.Options{
		Token:   o.Telegram.BotToken,
		APIBase: o.Telegram.APIEndpoint,
		HTTP:    &http.Client{Timeout: o.Telegram.SendTimeout + 5*time.Second},
		Logger:  o.Logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	c.Telegram = tg

	c.Hub = fanout.NewHub()
	c.Fanout = fanout.New(c.Hub, nil, o.Logger)
	c.Gateway = &gateway.Gateway{
		Store:       st,
		Transport:   tg,
		Blobs:       c.Blobs,
		Fanout:      c.Fanout,
		Limiter:     rate.NewLimiter(rate.Limit(o.Telegram.RPS), o.Telegram.Burst),
		Breaker:     gateway.NewBreaker(o.Logger),
		SendTimeout: o.Telegram.SendTimeout,
		Logger:      o.Logger,
	}
	c.Relay = relay.New(relay.Deps{
		Identities: identity.NewResolver(st, o.Logger),
		Store:      st,
		Replies:    c.Gateway,
		Transport:  tg,
		Blobs:      c.Blobs,
		Fanout:     c.Fanout,
		Logger:     o.Logger,
	})
	return c, nil
}

func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// OpenStore returns the configured ConversationStore; migrations run first when
// MIGRATE_ON_START is set.
func OpenStore(ctx context.Context, cfg config.Postgres, logger *slog.Logger) (store.ConversationStore, func(), error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "memory":
		return memory.New(), func() {}, nil
	case "", "postgres":
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.DBDSN == "" {
		return nil, nil, fmt.Errorf("DB_DSN is required for the postgres store")
	}
	if cfg.MigrateOnStart {
		if err := pg.RunMigrate(logger, cfg.DBDSN, "up", nil); err != nil {
			return nil, nil, err
		}
	}
	pool, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.PoolMaxConns,
		MinConns:          cfg.PoolMinConns,
		MaxConnLifetime:   cfg.PoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.PoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.PoolHealthCheckPeriod,
	})
	if err != nil {
		return nil, nil, err
	}
	return pg.New(pool), pool.Close, nil
}

func OpenBlobs(awsCfg aws.Config, a config.AWS, b config.Blob) blob.Store {
	if strings.EqualFold(b.Driver, "memory") {
		return blob.NewMemory(b.Bucket)
	}
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = a.LocalstackEndpoint
	}
	return blob.NewS3Store(awsutil.NewS3Client(awsCfg, endpoint), b.Bucket)
}

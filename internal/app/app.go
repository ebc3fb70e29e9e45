// Package app builds the component graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/market-keeper/internal/catalog"
	"github.com/and161185/market-keeper/internal/config"
	"github.com/and161185/market-keeper/internal/favorites"
	"github.com/and161185/market-keeper/internal/feed/natsfeed"
	"github.com/and161185/market-keeper/internal/limiter"
	"github.com/and161185/market-keeper/internal/repository"
	"github.com/and161185/market-keeper/internal/repository/postgres"
	"github.com/and161185/market-keeper/internal/repository/redisstore"
	"github.com/and161185/market-keeper/internal/service"
	"github.com/and161185/market-keeper/internal/session"
	"github.com/and161185/market-keeper/internal/storage/s3"
	"github.com/and161185/market-keeper/internal/upload"
)

// NewLogger returns a production logger, or a development one when cfg.Dev.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

// App owns every connection. Redis and blob storage are opened on first use.
type App struct {
	cfg *config.Config
	log *zap.Logger

	pool *pgxpool.Pool
	nc   *nats.Conn

	Session *session.Session
	Stream  *catalog.Stream
	Catalog *catalog.Catalog

	products  repository.ProductRepository
	announcer repository.ChangeAnnouncer

	favOnce sync.Once
	fav     *favorites.Cache
	rdb     *redis.Client
	favErr  error

	upOnce   sync.Once
	pipeline *upload.Pipeline
	upErr    error
}

// Open connects to PostgreSQL (and NATS when it carries the feed).
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	a := &App{cfg: cfg, log: log, pool: pool}

	db := &postgres.DB{Pool: pool}
	a.products = postgres.NewProductRepo(db)

	lim := limiter.NewPG(pool, limiter.Settings{
		Window:   cfg.Limiter.Window,
		MaxFails: cfg.Limiter.MaxFails,
		BlockFor: cfg.Limiter.BlockFor,
	})
	creds := service.NewCredentialService(postgres.NewCredentialRepo(db), []byte(cfg.JWT.Key), cfg.JWT.AccessTTL, lim, log.Named("credentials"))
	a.Session = session.New(creds, postgres.NewProfileRepo(db), log.Named("session"))

	var feed repository.ChangeFeed
	switch cfg.Feed.Kind {
	case config.FeedNATS:
		nc, err := natsfeed.Connect(cfg.Feed.NATSURL, "market-keeper", log.Named("nats"))
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.nc = nc
		f := natsfeed.New(nc, cfg.Feed.Subject, log.Named("feed"))
		feed, a.announcer = f, f
	default:
		feed = postgres.NewListener(pool, cfg.Feed.Channel, log.Named("feed"))
	}

	a.Stream = catalog.NewStream(a.products, feed, catalog.StreamOptions{
		ResubscribeAfter: cfg.Catalog.ResubscribeAfter,
		Buffer:           cfg.Catalog.Buffer,
	}, log.Named("catalog"))
	a.Catalog = catalog.New(a.products, a.Stream)
	return a, nil
}

// Favorites returns the favorites cache, connecting to Redis once.
func (a *App) Favorites(ctx context.Context) (*favorites.Cache, error) {
	a.favOnce.Do(func() {
		rc := a.cfg.Redis
		a.rdb, a.favErr = redisstore.Connect(ctx, rc.Addr, rc.Password, rc.DB)
		if a.favErr != nil {
			return
		}
		a.fav = favorites.New(redisstore.NewFavorites(a.rdb, rc.Prefix), a.log.Named("favorites"))
	})
	return a.fav, a.favErr
}

// Pipeline returns the upload pipeline, opening blob storage once.
func (a *App) Pipeline(ctx context.Context) (*upload.Pipeline, error) {
	a.upOnce.Do(func() {
		bc := a.cfg.Blob
		blobs, err := s3.Open(ctx, s3.Settings{
			Endpoint:  bc.Endpoint,
			AccessKey: bc.AccessKey,
			SecretKey: bc.SecretKey,
			Bucket:    bc.Bucket,
			UseSSL:    bc.UseSSL,
			PublicURL: bc.PublicURL,
		}, a.log.Named("blobs"))
		if err != nil {
			a.upErr = err
			return
		}
		uc := a.cfg.Upload
		opts := []upload.Option{upload.WithPolicy(upload.Policy{
			MinImages:        uc.MinImages,
			MaxImages:        uc.MaxImages,
			CleanupOnFailure: uc.CleanupOnFailure,
			CleanupTimeout:   uc.CleanupTimeout,
		})}
		if a.announcer != nil {
			opts = append(opts, upload.WithAnnouncer(a.announcer))
		}
		a.pipeline = upload.New(a.Session, blobs, a.products, a.log.Named("upload"), opts...)
	})
	return a.pipeline, a.upErr
}

// Close releases every open connection.
func (a *App) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.nc != nil {
		errs = append(errs, a.nc.Drain())
	}
	a.pool.Close()
	return errors.Join(errs...)
}

package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/and161185/market-keeper/internal/config"
	"github.com/and161185/market-keeper/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Postgres: config.PostgresConfig{DSN: "postgres://mk:mk@127.0.0.1:1/market?sslmode=disable"},
		JWT:      config.JWTConfig{Key: "0123456789abcdef", AccessTTL: time.Hour},
		Limiter:  config.LimiterConfig{Window: time.Minute, MaxFails: 5, BlockFor: time.Minute},
		Redis:    config.RedisConfig{Addr: "127.0.0.1:1", Prefix: "t"},
		Feed:     config.FeedConfig{Kind: config.FeedPostgres, Channel: "catalog_changes"},
		Catalog:  config.CatalogConfig{Buffer: 4},
		Upload:   config.UploadConfig{MinImages: 3, MaxImages: 5, CleanupOnFailure: true},
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(config.LogConfig{Dev: true, Level: "debug"})
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = NewLogger(config.LogConfig{Level: "loud"})
	require.Error(t, err)
}

func TestOpen_WiresWithoutTouchingTheNetwork(t *testing.T) {
	a, err := Open(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	require.NotNil(t, a.Session)
	require.NotNil(t, a.Catalog)
	require.NotNil(t, a.Stream)
	_, ok := a.Session.Current()
	require.False(t, ok)
}

func TestFavorites_ConnectsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()

	a, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	ctx := context.Background()
	fav, err := a.Favorites(ctx)
	require.NoError(t, err)
	again, err := a.Favorites(ctx)
	require.NoError(t, err)
	require.Same(t, fav, again)

	require.NoError(t, fav.Add(ctx, model.Product{ID: "p1", Title: "Lamp"}))
	e, ok := fav.Get(ctx, "p1").Value()
	require.True(t, ok)
	require.Equal(t, "Lamp", e.Title)
}

func TestFavorites_UnreachableRedis(t *testing.T) {
	a, err := Open(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = a.Favorites(ctx)
	require.Error(t, err)
}

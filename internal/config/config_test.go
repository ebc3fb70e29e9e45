package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, FeedPostgres, cfg.Feed.Kind)
	require.Equal(t, 3, cfg.Upload.MinImages)
	require.Equal(t, 5, cfg.Upload.MaxImages)
	require.True(t, cfg.Upload.CleanupOnFailure)
	require.Equal(t, 24*time.Hour, cfg.JWT.AccessTTL)
	require.Zero(t, cfg.Catalog.ResubscribeAfter)
	require.Error(t, cfg.RequireJWTKey())
}

func TestLoad_FileThenEnv(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), "mk.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
postgres:
  dsn: postgres://file/db
feed:
  kind: nats
catalog:
  resubscribe_after: 5s
`), 0o600))
	t.Setenv("MK_POSTGRES_DSN", "postgres://env/db")
	t.Setenv("MK_JWT_KEY", "0123456789abcdef")

	cfg, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, "postgres://env/db", cfg.Postgres.DSN)
	require.Equal(t, FeedNATS, cfg.Feed.Kind)
	require.Equal(t, 5*time.Second, cfg.Catalog.ResubscribeAfter)
	require.NoError(t, cfg.RequireJWTKey())
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	isolate(t)
	t.Setenv("MK_FEED_KIND", "kafka")
	t.Setenv("MK_UPLOAD_MIN_IMAGES", "6")
	_, err := Load("")
	require.ErrorContains(t, err, "feed.kind")
	require.ErrorContains(t, err, "upload images range")
}

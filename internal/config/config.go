// Package config loads market-keeper settings from defaults, YAML files and
// MK_-prefixed environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
)

// Feed kinds.
const (
	FeedPostgres = "postgres"
	FeedNATS     = "nats"
)

// Config is the complete configuration.
type Config struct {
	Postgres PostgresConfig `yaml:"postgres" env:"POSTGRES"`
	JWT      JWTConfig      `yaml:"jwt" env:"JWT"`
	Limiter  LimiterConfig  `yaml:"limiter" env:"LIMITER"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Blob     BlobConfig     `yaml:"blob" env:"BLOB"`
	Feed     FeedConfig     `yaml:"feed" env:"FEED"`
	Catalog  CatalogConfig  `yaml:"catalog" env:"CATALOG"`
	Upload   UploadConfig   `yaml:"upload" env:"UPLOAD"`
	Log      LogConfig      `yaml:"log" env:"LOG"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"DSN" default:"postgres://mk:mk@localhost:5432/market?sslmode=disable" usage:"PostgreSQL connection URL"`
}

type JWTConfig struct {
	Key       string        `yaml:"key" env:"KEY" usage:"HS256 signing key for access tokens"`
	AccessTTL time.Duration `yaml:"access_ttl" env:"ACCESS_TTL" default:"24h" usage:"access token lifetime"`
}

type LimiterConfig struct {
	Window   time.Duration `yaml:"window" env:"WINDOW" default:"15m" usage:"failed sign-in counting window"`
	MaxFails int           `yaml:"max_fails" env:"MAX_FAILS" default:"5" usage:"failures before a block"`
	BlockFor time.Duration `yaml:"block_for" env:"BLOCK_FOR" default:"15m" usage:"block duration"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR" default:"localhost:6379" usage:"Redis address for favorites"`
	Password string `yaml:"password" env:"PASSWORD" usage:"Redis password"`
	DB       int    `yaml:"db" env:"DB" default:"0" usage:"Redis database"`
	Prefix   string `yaml:"prefix" env:"PREFIX" default:"mk:favorites" usage:"key prefix"`
}

type BlobConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT" default:"localhost:9000" usage:"S3 endpoint host:port"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY" usage:"S3 access key"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY" usage:"S3 secret key"`
	Bucket    string `yaml:"bucket" env:"BUCKET" default:"product-images" usage:"bucket for product images"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL" default:"false" usage:"use https"`
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL" usage:"base URL of published images"`
}

type FeedConfig struct {
	Kind    string `yaml:"kind" env:"KIND" default:"postgres" usage:"change feed: postgres or nats"`
	NATSURL string `yaml:"nats_url" env:"NATS_URL" default:"nats://localhost:4222" usage:"NATS server URL"`
	Subject string `yaml:"subject" env:"SUBJECT" default:"market.catalog.changes" usage:"NATS subject"`
	Channel string `yaml:"channel" env:"CHANNEL" default:"catalog_changes" usage:"PostgreSQL NOTIFY channel"`
}

type CatalogConfig struct {
	ResubscribeAfter time.Duration `yaml:"resubscribe_after" env:"RESUBSCRIBE_AFTER" default:"0s" usage:"retry delay after a feed failure, 0 disables"`
	Buffer           int           `yaml:"buffer" env:"BUFFER" default:"16" usage:"pending snapshots per consumer"`
}

type UploadConfig struct {
	MinImages        int           `yaml:"min_images" env:"MIN_IMAGES" default:"3"`
	MaxImages        int           `yaml:"max_images" env:"MAX_IMAGES" default:"5"`
	CleanupOnFailure bool          `yaml:"cleanup_on_failure" env:"CLEANUP_ON_FAILURE" default:"true"`
	CleanupTimeout   time.Duration `yaml:"cleanup_timeout" env:"CLEANUP_TIMEOUT" default:"10s"`
}

type LogConfig struct {
	Dev   bool   `yaml:"dev" env:"DEV" default:"false" usage:"human-readable development logging"`
	Level string `yaml:"level" env:"LEVEL" default:"info" usage:"minimum log level"`
}

// Dir is the per-user configuration directory.
func Dir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "market-keeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "market-keeper")
}

// Load reads file when given, otherwise ./mk.yaml and Dir()/config.yaml.
func Load(file string) (*Config, error) {
	files := []string{"mk.yaml", filepath.Join(Dir(), "config.yaml")}
	if file != "" {
		files = []string{file}
	}
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:          true,
		EnvPrefix:          "MK",
		Files:              files,
		FailOnFileNotFound: file != "",
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
			".yml":  aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []error
	if c.Postgres.DSN == "" {
		problems = append(problems, errors.New("postgres.dsn is required"))
	}
	if c.Feed.Kind != FeedPostgres && c.Feed.Kind != FeedNATS {
		problems = append(problems, fmt.Errorf("feed.kind must be %q or %q, got %q", FeedPostgres, FeedNATS, c.Feed.Kind))
	}
	if c.Upload.MinImages < 1 || c.Upload.MaxImages < c.Upload.MinImages {
		problems = append(problems, fmt.Errorf("upload images range [%d, %d] is invalid", c.Upload.MinImages, c.Upload.MaxImages))
	}
	if c.Catalog.ResubscribeAfter < 0 {
		problems = append(problems, errors.New("catalog.resubscribe_after must not be negative"))
	}
	return errors.Join(problems...)
}

// RequireJWTKey reports a missing signing key; only commands that sign in need it.
func (c *Config) RequireJWTKey() error {
	if len(c.JWT.Key) < 16 {
		return errors.New("jwt.key must be at least 16 characters (MK_JWT_KEY)")
	}
	return nil
}

// Command mk drives the market-keeper catalog layer from a terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/market-keeper/internal/app"
	"github.com/and161185/market-keeper/internal/config"
	"github.com/and161185/market-keeper/internal/crypto/sealbox"
	"github.com/and161185/market-keeper/internal/migrate"
	"github.com/and161185/market-keeper/internal/result"
)

// ---- session store ----

// sessionFile holds the access token sealed under a key that never leaves
// the config dir.
type sessionFile struct {
	Sealed    []byte    `json:"sealed"`
	ExpiresAt time.Time `json:"expires_at"`
}

var sessionAAD = []byte("market-keeper/session/v1")

func sessionPath() string { return filepath.Join(config.Dir(), "session.json") }
func sessionKeyPath() string { return filepath.Join(config.Dir(), "session.key") }

func sessionKey() ([]byte, error) {
	master, err := sealbox.LoadOrCreateKey(sessionKeyPath())
	if err != nil {
		return nil, err
	}
	return sealbox.Derive(master, "session")
}

func saveSession(tok string, exp time.Time) error {
	key, err := sessionKey()
	if err != nil {
		return err
	}
	sealed, err := sealbox.Seal(key, []byte(tok), sessionAAD)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(sessionPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(sessionFile{Sealed: sealed, ExpiresAt: exp})
}

func loadSession() (string, error) {
	b, err := os.ReadFile(sessionPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.New("not signed in (run mk signin)")
		}
		return "", err
	}
	var sf sessionFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return "", err
	}
	if len(sf.Sealed) == 0 || time.Now().After(sf.ExpiresAt) {
		return "", errors.New("session expired (run mk signin)")
	}
	key, err := sessionKey()
	if err != nil {
		return "", err
	}
	tok, err := sealbox.Open(key, sf.Sealed, sessionAAD)
	if err != nil {
		return "", fmt.Errorf("session unreadable (run mk signin): %w", err)
	}
	return string(tok), nil
}

func clearSession() error {
	err := os.Remove(sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ---- output ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// value unwraps a one-shot state or exits.
func value[T any](s result.State[T]) T {
	return result.Match(s,
		func() T { fail(errors.New("operation did not complete")); var zero T; return zero },
		func(v T) T { return v },
		func(e result.Error) T { failState(e); var zero T; return zero },
	)
}

func failState(e result.Error) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", e.Kind, e.Message)
	if e.Kind.Retryable() {
		os.Exit(3)
	}
	os.Exit(1)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `mk - market-keeper CLI
Usage:
  mk [-config file] <cmd> [args]

Commands:
  version
  migrate
  signup   -email <e> -password <p> -name <n>
  signin   -email <e> -password <p>          (saves session)
  signout
  whoami
  watch    [-q text] [-category c]           (until interrupted)
  search   [-q text] [-category c]
  get      -id <product id>
  upload   -title <t> -desc <d> -price <p> -category <c> -img f [-img f ...] [-id <uuid>]
  fav      ls | add -id <id> | rm -id <id> | toggle -id <id>

Categories: Electronics, Fashion, Home & Garden, Sports, Books, Toys, Food, Other
`)
	os.Exit(2)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfgFile := flag.String("config", "", "config file (YAML)")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "version" {
		fmt.Printf("mk %s (%s)\n", version, buildDate)
		return
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fail(err)
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		fail(err)
	}
	defer func() { _ = logger.Sync() }()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd == "migrate" {
		ctx, cancel := context.WithTimeout(sigCtx, time.Minute)
		defer cancel()
		if err := migrate.Up(ctx, cfg.Postgres.DSN); err != nil {
			fail(fmt.Errorf("migrate up: %w", err))
		}
		v, err := migrate.Version(ctx, cfg.Postgres.DSN)
		if err != nil {
			fail(err)
		}
		fmt.Printf("schema version %d\n", v)
		return
	}

	if err := cfg.RequireJWTKey(); err != nil {
		fail(err)
	}
	a, err := app.Open(sigCtx, cfg, logger)
	if err != nil {
		fail(err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Debug("close", zap.Error(err))
		}
	}()

	if cmd == "watch" {
		cmdWatch(sigCtx, a, args)
		return
	}

	ctx, cancel := context.WithTimeout(sigCtx, 30*time.Second)
	defer cancel()

	switch cmd {
	case "signup":
		cmdSignUp(ctx, a, args)
	case "signin":
		cmdSignIn(ctx, a, args)
	case "signout":
		a.Session.SignOut()
		if err := clearSession(); err != nil {
			fail(err)
		}
		fmt.Println("ok")
	case "whoami":
		printJSON(restore(ctx, a))
	case "search":
		cmdSearch(ctx, a, args)
	case "get":
		cmdGet(ctx, a, args)
	case "upload":
		cmdUpload(ctx, a, args)
	case "fav":
		cmdFav(ctx, a, args)
	default:
		usage()
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/and161185/market-keeper/internal/app"
	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/result"
	"github.com/and161185/market-keeper/internal/upload"
)

func cmdSignUp(ctx context.Context, a *app.App, args []string) {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password (6+ characters)")
	name := fs.String("name", "", "display name")
	_ = fs.Parse(args)

	identity := value(a.Session.SignUp(ctx, *email, *password, *name))
	if err := saveSession(a.Session.Token(), tokenExpiry(a.Session.Token())); err != nil {
		fail(err)
	}
	printJSON(identity)
}

func cmdSignIn(ctx context.Context, a *app.App, args []string) {
	fs := flag.NewFlagSet("signin", flag.ExitOnError)
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	_ = fs.Parse(args)
	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "need -email and -password")
		os.Exit(1)
	}

	identity := value(a.Session.SignIn(ctx, *email, *password))
	if err := saveSession(a.Session.Token(), tokenExpiry(a.Session.Token())); err != nil {
		fail(err)
	}
	printJSON(identity)
}

// restore signs the session in from the saved token.
func restore(ctx context.Context, a *app.App) model.Identity {
	tok, err := loadSession()
	if err != nil {
		fail(err)
	}
	return value(a.Session.Restore(ctx, tok))
}

func cmdWatch(ctx context.Context, a *app.App, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	q := fs.String("q", "", "text filter")
	category := fs.String("category", "", "exact category")
	_ = fs.Parse(args)

	for st := range a.Catalog.Watch(ctx, *q, *category) {
		fmt.Println(describe(st))
	}
}

// describe renders one stream value as a line.
func describe(st result.State[[]model.Product]) string {
	return result.Match(st,
		func() string { return "loading..." },
		func(ps []model.Product) string {
			var b strings.Builder
			fmt.Fprintf(&b, "%d products", len(ps))
			for _, p := range ps {
				fmt.Fprintf(&b, "\n  %s  %-24s %10s  %s", p.ID, p.Title, p.Price.StringFixed(2), p.Category)
			}
			return b.String()
		},
		func(e result.Error) string { return "error: " + e.Kind.String() + ": " + e.Message },
	)
}

func cmdSearch(ctx context.Context, a *app.App, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	q := fs.String("q", "", "text filter")
	category := fs.String("category", "", "exact category")
	_ = fs.Parse(args)

	fmt.Println(describe(result.Success(value(a.Catalog.Search(ctx, *q, *category)))))
}

func cmdGet(ctx context.Context, a *app.App, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	id := fs.String("id", "", "product id")
	_ = fs.Parse(args)
	if *id == "" {
		fmt.Fprintln(os.Stderr, "need -id")
		os.Exit(1)
	}
	printJSON(value(a.Catalog.Get(ctx, *id)))
}

// imageFlags collects repeated -img values.
type imageFlags []string

func (f *imageFlags) String() string { return strings.Join(*f, ",") }
func (f *imageFlags) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func loadImages(paths []string) ([]upload.Image, error) {
	out := make([]upload.Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
		if ct == "" {
			ct = "image/jpeg"
		}
		out = append(out, upload.Image{Data: data, ContentType: ct})
	}
	return out, nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("price %q: %w", s, err)
	}
	return d.Round(2), nil
}

func cmdUpload(ctx context.Context, a *app.App, args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	id := fs.String("id", "", "product id (uuid, optional)")
	title := fs.String("title", "", "title")
	desc := fs.String("desc", "", "description")
	price := fs.String("price", "", "price, e.g. 19.99")
	category := fs.String("category", "", "category")
	var imgs imageFlags
	fs.Var(&imgs, "img", "image file (repeat 3-5 times)")
	_ = fs.Parse(args)

	restore(ctx, a)
	p, err := parsePrice(*price)
	if err != nil {
		fail(err)
	}
	images, err := loadImages(imgs)
	if err != nil {
		fail(err)
	}
	pipeline, err := a.Pipeline(ctx)
	if err != nil {
		fail(err)
	}
	productID := value(pipeline.Upload(ctx, upload.Draft{
		ProductID:   *id,
		Title:       *title,
		Description: *desc,
		Price:       p,
		Category:    *category,
		Images:      images,
	}))
	fmt.Println(productID)
}

func cmdFav(ctx context.Context, a *app.App, args []string) {
	if len(args) < 1 {
		usage()
	}
	fs := flag.NewFlagSet("fav "+args[0], flag.ExitOnError)
	id := fs.String("id", "", "product id")
	_ = fs.Parse(args[1:])

	cache, err := a.Favorites(ctx)
	if err != nil {
		fail(err)
	}
	needID := func() {
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
	}

	switch args[0] {
	case "ls":
		for st := range cache.List(ctx) {
			if st.IsLoading() {
				continue
			}
			printJSON(value(st))
			return
		}
	case "add":
		needID()
		if err := cache.Add(ctx, value(a.Catalog.Get(ctx, *id))); err != nil {
			fail(err)
		}
		fmt.Println("ok")
	case "rm":
		needID()
		if err := cache.Remove(ctx, *id); err != nil {
			fail(err)
		}
		fmt.Println("ok")
	case "toggle":
		needID()
		p := value(a.Catalog.Get(ctx, *id))
		if value(cache.Toggle(ctx, p)) {
			fmt.Println("added")
		} else {
			fmt.Println("removed")
		}
	default:
		usage()
	}
}

// tokenExpiry reads exp from the access token; it only ages out the local
// session file, the signature is checked by Restore.
func tokenExpiry(tok string) time.Time {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(tok, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Now().Add(time.Hour)
	}
	return claims.ExpiresAt.Time
}

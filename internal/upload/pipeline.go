// Package upload publishes a product: its images go to blob storage first,
// then a single document write makes it visible in the catalog.
package upload

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
	"github.com/and161185/market-keeper/internal/repository"
	"github.com/and161185/market-keeper/internal/result"
	"github.com/and161185/market-keeper/internal/session"
)

// Image is one picture of a draft.
type Image struct {
	Data        []byte
	ContentType string // defaults to image/jpeg
}

// Draft is the input of Upload. An empty ProductID is generated.
type Draft struct {
	ProductID   string
	Title       string
	Description string
	Price       decimal.Decimal
	Category    string
	Images      []Image
}

// Policy holds the pipeline limits.
type Policy struct {
	MinImages        int
	MaxImages        int
	CleanupOnFailure bool
	CleanupTimeout   time.Duration
}

// DefaultPolicy allows 3 to 5 images and removes committed images on failure.
func DefaultPolicy() Policy {
	return Policy{MinImages: 3, MaxImages: 5, CleanupOnFailure: true, CleanupTimeout: 10 * time.Second}
}

// ImagePath is where image index of product id is stored. The same
// (id, index) always maps to the same object, so a retry overwrites.
func ImagePath(id string, index int) string {
	return fmt.Sprintf("product_images/%s/image_%d.jpg", id, index)
}

// Pipeline runs uploads. Concurrent calls for one product id share a run.
type Pipeline struct {
	identities session.Identities
	blobs      repository.BlobStore
	store      repository.ProductRepository
	announcer  repository.ChangeAnnouncer
	observer   Observer
	policy     Policy
	log        *zap.Logger
	now        func() time.Time

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]*flight
	gen      uint64
}

// flight is the context shared by every caller joined to one upload. It is
// cancelled once the last of them has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	key     string
	waiters int
	done    chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option { return func(pl *Pipeline) { pl.policy = p } }

// WithObserver reports stage transitions.
func WithObserver(o Observer) Option { return func(pl *Pipeline) { pl.observer = o } }

// WithAnnouncer publishes a change event after each successful write.
func WithAnnouncer(a repository.ChangeAnnouncer) Option {
	return func(pl *Pipeline) { pl.announcer = a }
}

// New returns a Pipeline.
func New(identities session.Identities, blobs repository.BlobStore, store repository.ProductRepository, log *zap.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		identities: identities,
		blobs:      blobs,
		store:      store,
		policy:     DefaultPolicy(),
		log:        log,
		now:        time.Now,
		inflight:   map[string]*flight{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Upload runs the pipeline and returns the product id on success.
func (p *Pipeline) Upload(ctx context.Context, d Draft) result.State[string] {
	if d.ProductID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return result.FromError[string](err)
		}
		d.ProductID = id.String()
	}
	f, ch, err := p.join(ctx, d)
	if err != nil {
		return result.FromError[string](err)
	}
	defer p.leave(f)

	select {
	case res := <-ch:
		if res.Shared {
			p.log.Debug("joined in-flight upload", zap.String("product_id", d.ProductID))
		}
		return res.Val.(result.State[string])
	case <-ctx.Done():
		return result.FromError[string](canceled(d.ProductID, ctx.Err()))
	}
}

func canceled(id string, err error) error {
	return fmt.Errorf("%w: upload %s: %v", errs.ErrUnavailable, id, err)
}

// join attaches the caller to the upload in flight for d.ProductID, starting
// one if there is none. A run abandoned by all of its callers is allowed to
// finish its cleanup before the next one starts.
func (p *Pipeline) join(ctx context.Context, d Draft) (*flight, <-chan singleflight.Result, error) {
	for {
		p.mu.Lock()
		f, ok := p.inflight[d.ProductID]
		if ok && f.ctx.Err() != nil {
			p.mu.Unlock()
			select {
			case <-f.done:
				continue
			case <-ctx.Done():
				return nil, nil, canceled(d.ProductID, ctx.Err())
			}
		}
		if !ok {
			p.gen++
			fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			f = &flight{ctx: fctx, cancel: cancel, key: fmt.Sprintf("%s#%d", d.ProductID, p.gen), done: make(chan struct{})}
			p.inflight[d.ProductID] = f
		}
		f.waiters++
		ch := p.group.DoChan(f.key, func() (any, error) {
			defer p.finish(d.ProductID, f)
			return p.newRun(d).execute(f.ctx), nil
		})
		p.mu.Unlock()
		return f, ch, nil
	}
}

func (p *Pipeline) leave(f *flight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.waiters--
	if f.waiters == 0 {
		f.cancel()
	}
}

func (p *Pipeline) finish(id string, f *flight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[id] == f {
		delete(p.inflight, id)
	}
	f.cancel()
	close(f.done)
}

func (p *Pipeline) newRun(d Draft) *run {
	return &run{p: p, draft: d, log: p.log.With(zap.String("product_id", d.ProductID))}
}

// run is one pass through Idle -> Uploading -> WritingDocument -> Done|Failed.
type run struct {
	p        *Pipeline
	draft    Draft
	log      *zap.Logger
	stage    Stage
	identity model.Identity
	urls     []string
	paths    []string // committed blobs
}

func (r *run) execute(ctx context.Context) result.State[string] {
	r.enter(Idle)
	if err := r.precheck(); err != nil {
		r.enter(Failed)
		return result.FromError[string](err)
	}

	r.enter(Uploading)
	if err := r.uploadImages(ctx); err != nil {
		return r.fail(ctx, err)
	}

	r.enter(WritingDocument)
	if err := r.writeDocument(ctx); err != nil {
		return r.fail(ctx, err)
	}

	r.enter(Done)
	r.announce(ctx)
	r.log.Info("product uploaded", zap.Int("images", len(r.urls)))
	return result.Success(r.draft.ProductID)
}

func (r *run) enter(s Stage) {
	r.stage = s
	if r.p.observer != nil {
		r.p.observer(r.draft.ProductID, s)
	}
}

// precheck does no I/O.
func (r *run) precheck() error {
	identity, ok := r.p.identities.Current()
	if !ok {
		return fmt.Errorf("upload requires a signed-in user: %w", errs.ErrNotAuthenticated)
	}
	r.identity = identity

	d, pol := r.draft, r.p.policy
	switch n := len(d.Images); {
	case n < pol.MinImages || n > pol.MaxImages:
		return errs.Validation("need %d to %d images, got %d", pol.MinImages, pol.MaxImages, n)
	case strings.TrimSpace(d.Title) == "":
		return errs.Validation("title is required")
	case strings.TrimSpace(d.Description) == "":
		return errs.Validation("description is required")
	case !d.Price.IsPositive():
		return errs.Validation("price must be greater than zero")
	case !model.IsCategory(d.Category):
		return errs.Validation("unknown category %q", d.Category)
	}
	for i, img := range d.Images {
		if len(img.Data) == 0 {
			return errs.Validation("image %d is empty", i+1)
		}
	}
	return nil
}

// uploadImages is sequential; it stops at the first failure.
func (r *run) uploadImages(ctx context.Context) error {
	for i, img := range r.draft.Images {
		path := ImagePath(r.draft.ProductID, i)
		ct := img.ContentType
		if ct == "" {
			ct = "image/jpeg"
		}
		if err := r.p.blobs.Put(ctx, path, img.Data, ct); err != nil {
			return r.imageError(i, err)
		}
		r.paths = append(r.paths, path)
		url, err := r.p.blobs.URL(ctx, path)
		if err != nil {
			return r.imageError(i, err)
		}
		r.urls = append(r.urls, url)
		r.log.Debug("image committed", zap.String("path", path))
	}
	return nil
}

func (r *run) imageError(i int, err error) error {
	kind := errs.ErrUnavailable
	if len(r.paths) > 0 {
		kind = errs.ErrPartialUpload
	}
	return fmt.Errorf("%w: image %d of %d: %v", kind, i+1, len(r.draft.Images), err)
}

func (r *run) writeDocument(ctx context.Context) error {
	d := r.draft
	prod := &model.Product{
		ID:            d.ProductID,
		Title:         strings.TrimSpace(d.Title),
		Description:   strings.TrimSpace(d.Description),
		Price:         d.Price,
		Images:        r.urls,
		UploaderID:    r.identity.ID,
		UploaderName:  r.identity.Name,
		UploaderEmail: r.identity.Email,
		Category:      d.Category,
		Timestamp:     r.p.now().UTC(),
	}
	if err := r.p.store.Upsert(ctx, prod); err != nil {
		return fmt.Errorf("%w: write product: %v", errs.ErrUnavailable, err)
	}
	return nil
}

func (r *run) fail(ctx context.Context, err error) result.State[string] {
	r.enter(Failed)
	r.log.Warn("upload failed", zap.Int("committed_images", len(r.paths)), zap.Error(err))
	msg := err.Error()
	if left := r.cleanup(ctx); left > 0 {
		msg += fmt.Sprintf(" (%d uploaded images could not be removed)", left)
	}
	return result.Fail[string](errs.KindOf(err), msg)
}

// cleanup removes committed blobs and returns how many are left behind. It
// outlives a cancelled ctx for at most CleanupTimeout.
func (r *run) cleanup(ctx context.Context) int {
	if !r.p.policy.CleanupOnFailure || len(r.paths) == 0 {
		return 0
	}
	timeout := r.p.policy.CleanupTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	left := 0
	for _, path := range r.paths {
		if err := r.p.blobs.Remove(cctx, path); err != nil {
			left++
			r.log.Warn("remove orphaned image", zap.String("path", path), zap.Error(err))
		}
	}
	return left
}

func (r *run) announce(ctx context.Context) {
	if r.p.announcer == nil {
		return
	}
	ev := model.ChangeEvent{ProductID: r.draft.ProductID, Op: model.OpInsert}
	if err := r.p.announcer.Announce(ctx, ev); err != nil {
		r.log.Warn("announce upload", zap.Error(err))
	}
}

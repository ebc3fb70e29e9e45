package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
)

const productColumns = `id, title, description, price, images, uploader_id, uploader_name, uploader_email, category, ts`

// ProductRepo implements ProductRepository using PostgreSQL.
type ProductRepo struct {
	db  *DB
	now func() time.Time
}

// NewProductRepo constructs a product repository.
func NewProductRepo(db *DB) *ProductRepo { return &ProductRepo{db: db, now: time.Now} }

// List reads the catalog revision and every product inside one repeatable-read
// transaction, so Version matches the rows returned.
func (r *ProductRepo) List(ctx context.Context) (snap model.Snapshot, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return model.Snapshot{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if err = tx.QueryRow(ctx, `SELECT rev FROM catalog_revision`).Scan(&snap.Version); err != nil {
		return model.Snapshot{}, fmt.Errorf("read catalog revision: %w", err)
	}
	rows, err := tx.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY ts DESC, id`)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("list products: %w", err)
	}
	snap.Products, err = pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("list products: %w", err)
	}
	snap.At = r.now()
	return snap, nil
}

// Get returns a single product by id.
func (r *ProductRepo) Get(ctx context.Context, id string) (*model.Product, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	if err != nil {
		return nil, fmt.Errorf("get product %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("get product %q: %w", id, err)
	}
	return &p, nil
}

// Upsert writes the whole document in one statement; readers see either the
// previous row or the new one.
func (r *ProductRepo) Upsert(ctx context.Context, p *model.Product) error {
	const q = `
INSERT INTO products (id, title, description, price, images, uploader_id, uploader_name, uploader_email, category, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
  title=EXCLUDED.title, description=EXCLUDED.description, price=EXCLUDED.price, images=EXCLUDED.images,
  uploader_id=EXCLUDED.uploader_id, uploader_name=EXCLUDED.uploader_name, uploader_email=EXCLUDED.uploader_email,
  category=EXCLUDED.category, ts=EXCLUDED.ts`
	images := p.Images
	if images == nil {
		images = []string{}
	}
	_, err := r.db.Pool.Exec(ctx, q,
		p.ID, p.Title, p.Description, p.Price, images,
		p.UploaderID, p.UploaderName, p.UploaderEmail, p.Category, p.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert product %q: %w", p.ID, err)
	}
	return nil
}

// ListByCategory returns products whose category equals category, newest first.
func (r *ProductRepo) ListByCategory(ctx context.Context, category string) ([]model.Product, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE category=$1 ORDER BY ts DESC, id`, category)
	if err != nil {
		return nil, fmt.Errorf("list products by category: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (model.Product, error) {
	var p model.Product
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Price, &p.Images,
		&p.UploaderID, &p.UploaderName, &p.UploaderEmail, &p.Category, &p.Timestamp,
	)
	return p, err
}

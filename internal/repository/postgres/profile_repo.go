package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
)

// ProfileRepo implements ProfileRepository using PostgreSQL.
type ProfileRepo struct{ db *DB }

// NewProfileRepo constructs a profile repository.
func NewProfileRepo(db *DB) *ProfileRepo { return &ProfileRepo{db: db} }

// GetProfile selects a profile by credential id.
func (r *ProfileRepo) GetProfile(ctx context.Context, id string) (*model.Identity, error) {
	const q = `SELECT id, name, email FROM profiles WHERE id=$1`
	var p model.Identity
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Name, &p.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", id, errs.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// SetProfile upserts the profile row for identity.ID.
func (r *ProfileRepo) SetProfile(ctx context.Context, identity model.Identity) error {
	const q = `
INSERT INTO profiles (id, name, email) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, email=EXCLUDED.email, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, identity.ID, identity.Name, identity.Email)
	return err
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/market-keeper/internal/errs"
	"github.com/and161185/market-keeper/internal/model"
)

// CredentialRepo implements CredentialRepository using PostgreSQL.
type CredentialRepo struct{ db *DB }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{db: db} }

// Create inserts a new credential row.
func (r *CredentialRepo) Create(ctx context.Context, c *model.Credential) error {
	const q = `
INSERT INTO credentials (id, email, pwd_hash, salt)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, c.ID, c.Email, c.PwdHash, c.Salt)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %q: %w", c.Email, errs.ErrAlreadyExists)
	}
	return err
}

// GetByEmail selects a credential by email.
func (r *CredentialRepo) GetByEmail(ctx context.Context, email string) (*model.Credential, error) {
	const q = `
SELECT id, email, pwd_hash, salt, created_at
FROM credentials WHERE email=$1`
	row := r.db.Pool.QueryRow(ctx, q, email)
	var c model.Credential
	if err := row.Scan(&c.ID, &c.Email, &c.PwdHash, &c.Salt, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

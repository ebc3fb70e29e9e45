// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/market-keeper/internal/model"
)

// CredentialRepository stores sign-in records.
type CredentialRepository interface {
	// Create inserts a new credential; a taken email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, c *model.Credential) error
	// GetByEmail loads a credential by email.
	GetByEmail(ctx context.Context, email string) (*model.Credential, error)
}

// ProfileRepository stores public profiles keyed by credential id.
type ProfileRepository interface {
	// GetProfile loads a profile; a missing one yields errs.ErrNotFound.
	GetProfile(ctx context.Context, id string) (*model.Identity, error)
	// SetProfile inserts or replaces the profile for identity.ID.
	SetProfile(ctx context.Context, identity model.Identity) error
}

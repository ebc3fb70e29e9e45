// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Categories lists the catalog categories offered by the upload form and the
// category filter chips.
var Categories = []string{
	"Electronics", "Fashion", "Home & Garden", "Sports",
	"Books", "Toys", "Food", "Other",
}

// IsCategory reports whether c is one of Categories.
func IsCategory(c string) bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// Product is a catalog document. It is written once by the upload pipeline and
// replaced only by re-uploading a document with the same ID.
type Product struct {
	ID            string          // caller-generated UUID
	Title         string
	Description   string
	Price         decimal.Decimal // non-negative
	Images        []string        // durable URLs, in upload order
	UploaderID    string
	UploaderName  string
	UploaderEmail string
	Category      string
	Timestamp     time.Time // creation instant
}

// FavoriteEntry is a locally persisted, denormalized bookmark of a product.
// It stays viewable after the source product disappears from the catalog.
type FavoriteEntry struct {
	ID           string          `json:"id"` // = Product.ID
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	ImageURL     string          `json:"image_url"` // first product image, empty if none
	UploaderID   string          `json:"uploader_id"`
	UploaderName string          `json:"uploader_name"`
	AddedAt      time.Time       `json:"added_at"`
}

// NewFavoriteEntry denormalizes p into an entry stamped with addedAt.
func NewFavoriteEntry(p Product, addedAt time.Time) FavoriteEntry {
	e := FavoriteEntry{
		ID:           p.ID,
		Title:        p.Title,
		Description:  p.Description,
		Price:        p.Price,
		UploaderID:   p.UploaderID,
		UploaderName: p.UploaderName,
		AddedAt:      addedAt,
	}
	if len(p.Images) > 0 {
		e.ImageURL = p.Images[0]
	}
	return e
}

// Identity is the public profile of a signed-in user.
type Identity struct {
	ID    string
	Name  string
	Email string
}

// Credential is the stored sign-in record behind an Identity. Passwords are never stored in plaintext.
type Credential struct {
	ID        string // PK, shared with the profile
	Email     string // unique
	PwdHash   []byte // Argon2id(password, Salt)
	Salt      []byte
	CreatedAt time.Time
}

// Grant is the result of a successful authentication.
type Grant struct {
	UserID      string
	AccessToken string
	ExpiresAt   time.Time
}

// Snapshot is a complete, ordered materialization of the catalog.
type Snapshot struct {
	Products []Product // newest Timestamp first
	Version  int64     // store revision the snapshot was read at
	At       time.Time // local read time
}

// Change operations reported by the push channel.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// ChangeEvent notifies that a catalog document changed. Err is set when the
// underlying channel failed; the feed closes right after delivering it.
type ChangeEvent struct {
	ProductID string `json:"id"`
	Op        string `json:"op"`
	Err       error  `json:"-"`
}

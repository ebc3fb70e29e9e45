// Package catalog keeps a live, filtered view of the remote product catalog.
package catalog

import (
	"strings"

	"github.com/and161185/market-keeper/internal/model"
)

// Apply filters snap by a case-insensitive substring of title, description or
// category, and by exact category when category is non-empty. Both filters
// must match. Snapshot order is preserved.
func Apply(snap model.Snapshot, query, category string) []model.Product {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]model.Product, 0, len(snap.Products))
	for _, p := range snap.Products {
		if category != "" && p.Category != category {
			continue
		}
		if q != "" && !matches(p, q) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matches(p model.Product, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(p.Title), lowerQuery) ||
		strings.Contains(strings.ToLower(p.Description), lowerQuery) ||
		strings.Contains(strings.ToLower(p.Category), lowerQuery)
}

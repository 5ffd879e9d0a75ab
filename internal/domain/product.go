package domain

import (
	"time"

	"github.com/google/uuid"
)

// Product is one catalog entry tracked by the crawler. The slug is the
// site-side identity and never changes once the row exists; products that
// disappear from the listing are deactivated, never deleted.
type Product struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Slug      string    `json:"slug" db:"slug"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"active" db:"active"`
	FirstSeen time.Time `json:"first_seen" db:"first_seen"`
	LastSeen  time.Time `json:"last_seen" db:"last_seen"`
}

// DiscoveredProduct is a catalog entry as reported by one discovery pass
// over the listing page, before it is synced into the store.
type DiscoveredProduct struct {
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

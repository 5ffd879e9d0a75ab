package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Offer is a single parsed price quote before persistence: one pharmacy,
// one price, optionally tied to an expiration batch.
type Offer struct {
	Price      decimal.Decimal `json:"price"`
	Unit       string          `json:"unit"`
	Expiration string          `json:"expiration"`
}

// PharmacyListing groups every offer one pharmacy shows for a product on
// the offer page. A listing with no valid prices is never emitted.
type PharmacyListing struct {
	PharmacyName string  `json:"pharmacy_name"`
	PharmacyURL  string  `json:"pharmacy_url"`
	Address      string  `json:"address"`
	MapURL       string  `json:"map_url"`
	Availability string  `json:"availability"`
	UpdatedNote  string  `json:"updated_note"`
	Offers       []Offer `json:"offers"`
}

// PriceOffer is one persisted price observation. Rows are append-only;
// the tuple (product, pharmacy, price, expiration, fetched_at) is unique.
type PriceOffer struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	ProductID    uuid.UUID       `json:"product_id" db:"product_id"`
	PharmacyName string          `json:"pharmacy_name" db:"pharmacy_name"`
	Address      string          `json:"address" db:"address"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Unit         string          `json:"unit" db:"unit"`
	Expiration   *string         `json:"expiration" db:"expiration"`
	FetchedAt    time.Time       `json:"fetched_at" db:"fetched_at"`
	Availability *string         `json:"availability" db:"availability"`
	UpdatedNote  *string         `json:"updated_note" db:"updated_note"`
	MapURL       *string         `json:"map_url" db:"map_url"`
	Lat          *float64        `json:"lat" db:"lat"`
	Lon          *float64        `json:"lon" db:"lon"`
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pharmwatch/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrOfferNotFound = errors.New("price offer not found")
)

// PriceOfferRepository defines the interface for the append-only price
// observation store
type PriceOfferRepository interface {
	InsertOffers(ctx context.Context, offers []*domain.PriceOffer) (int, error)
	Trend(ctx context.Context, productID uuid.UUID) ([]*domain.PriceOffer, error)
	Cheapest(ctx context.Context, productID uuid.UUID) (*domain.PriceOffer, error)
}

type priceOfferRepository struct {
	db *sql.DB
}

// NewPriceOfferRepository creates a new instance of PriceOfferRepository
func NewPriceOfferRepository(db *sql.DB) PriceOfferRepository {
	return &priceOfferRepository{db: db}
}

// InsertOffers stores the offers that are genuinely new and returns how
// many rows were written. An offer is a duplicate when a row with the same
// product, pharmacy, price, unit and expiration already exists, regardless
// of when it was fetched, so a repeated crawl of an unchanged page writes
// nothing. Any price, unit or expiration change produces a fresh row.
func (r *priceOfferRepository) InsertOffers(ctx context.Context, offers []*domain.PriceOffer) (int, error) {
	if len(offers) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	existsQuery := `
		SELECT EXISTS (
			SELECT 1 FROM price_offers
			WHERE product_id = $1
			  AND pharmacy_name = $2
			  AND price = $3
			  AND unit = $4
			  AND expiration IS NOT DISTINCT FROM $5
		)
	`
	insertQuery := `
		INSERT INTO price_offers (
			id, product_id, pharmacy_name, address, price, unit, expiration,
			fetched_at, availability, updated_note, map_url, lat, lon
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	inserted := 0
	for _, offer := range offers {
		var exists bool
		err := tx.QueryRowContext(ctx, existsQuery,
			offer.ProductID,
			offer.PharmacyName,
			offer.Price,
			offer.Unit,
			offer.Expiration,
		).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("failed to check for existing offer: %w", err)
		}
		if exists {
			continue
		}

		if offer.ID == uuid.Nil {
			offer.ID = uuid.New()
		}

		_, err = tx.ExecContext(ctx, insertQuery,
			offer.ID,
			offer.ProductID,
			offer.PharmacyName,
			offer.Address,
			offer.Price,
			offer.Unit,
			offer.Expiration,
			offer.FetchedAt,
			offer.Availability,
			offer.UpdatedNote,
			offer.MapURL,
			offer.Lat,
			offer.Lon,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert offer for %q: %w", offer.PharmacyName, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit insert transaction: %w", err)
	}

	return inserted, nil
}

// Trend returns the full observation history for a product in
// chronological order, oldest first.
func (r *priceOfferRepository) Trend(ctx context.Context, productID uuid.UUID) ([]*domain.PriceOffer, error) {
	query := `
		SELECT id, product_id, pharmacy_name, address, price, unit, expiration,
		       fetched_at, availability, updated_note, map_url, lat, lon
		FROM price_offers
		WHERE product_id = $1
		ORDER BY fetched_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query price trend: %w", err)
	}
	defer rows.Close()

	offers := []*domain.PriceOffer{}
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price trend: %w", err)
	}

	return offers, nil
}

// Cheapest returns the lowest price observed in the most recent crawl of a
// product, ties broken by pharmacy name.
func (r *priceOfferRepository) Cheapest(ctx context.Context, productID uuid.UUID) (*domain.PriceOffer, error) {
	query := `
		SELECT id, product_id, pharmacy_name, address, price, unit, expiration,
		       fetched_at, availability, updated_note, map_url, lat, lon
		FROM price_offers
		WHERE product_id = $1
		  AND fetched_at = (SELECT MAX(fetched_at) FROM price_offers WHERE product_id = $1)
		ORDER BY price ASC, pharmacy_name ASC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, query, productID)
	offer, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}

	return offer, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(row rowScanner) (*domain.PriceOffer, error) {
	offer := &domain.PriceOffer{}
	err := row.Scan(
		&offer.ID,
		&offer.ProductID,
		&offer.PharmacyName,
		&offer.Address,
		&offer.Price,
		&offer.Unit,
		&offer.Expiration,
		&offer.FetchedAt,
		&offer.Availability,
		&offer.UpdatedNote,
		&offer.MapURL,
		&offer.Lat,
		&offer.Lon,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan price offer: %w", err)
	}
	return offer, nil
}

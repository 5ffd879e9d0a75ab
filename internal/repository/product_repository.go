package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pharmwatch/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound = errors.New("product not found")
)

// ProductRepository defines the interface for product lifecycle data access
type ProductRepository interface {
	Sync(ctx context.Context, discovered []domain.DiscoveredProduct, seenAt time.Time) ([]*domain.Product, error)
	Deactivate(ctx context.Context, slugs []string) (int, error)
	DeactivateMissing(ctx context.Context, keepSlugs []string) (int, error)
	FindBySlug(ctx context.Context, slug string) (*domain.Product, error)
	FindActive(ctx context.Context) ([]*domain.Product, error)
}

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db *sql.DB) ProductRepository {
	return &productRepository{db: db}
}

// Sync upserts every discovered product inside one transaction. New slugs
// get first_seen = last_seen = seenAt; known slugs keep their first_seen
// and are reactivated with a refreshed name and last_seen. Running Sync
// twice with the same input is a no-op beyond the last_seen timestamps.
func (r *productRepository) Sync(ctx context.Context, discovered []domain.DiscoveredProduct, seenAt time.Time) ([]*domain.Product, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin sync transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO products (id, slug, name, active, first_seen, last_seen)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		ON CONFLICT (slug) DO UPDATE
		SET name = EXCLUDED.name, active = TRUE, last_seen = EXCLUDED.last_seen
		RETURNING id, slug, name, active, first_seen, last_seen
	`

	products := make([]*domain.Product, 0, len(discovered))
	for _, d := range discovered {
		product := &domain.Product{}
		err := tx.QueryRowContext(ctx, query, uuid.New(), d.Slug, d.Name, seenAt).Scan(
			&product.ID,
			&product.Slug,
			&product.Name,
			&product.Active,
			&product.FirstSeen,
			&product.LastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to sync product %q: %w", d.Slug, err)
		}
		products = append(products, product)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sync transaction: %w", err)
	}

	return products, nil
}

// Deactivate marks the named products inactive and returns how many rows
// changed. Seen timestamps and existing offers are untouched.
func (r *productRepository) Deactivate(ctx context.Context, slugs []string) (int, error) {
	if len(slugs) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(slugs))
	args := make([]interface{}, len(slugs))
	for i, slug := range slugs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = slug
	}
	query := fmt.Sprintf("UPDATE products SET active = FALSE WHERE active AND slug IN (%s)", strings.Join(placeholders, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate products: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// DeactivateMissing marks every active product whose slug is not in
// keepSlugs as inactive and returns how many rows changed. An empty keep
// list deactivates the whole catalog; callers apply their own sanity
// threshold before invoking it.
func (r *productRepository) DeactivateMissing(ctx context.Context, keepSlugs []string) (int, error) {
	query := "UPDATE products SET active = FALSE WHERE active"
	args := []interface{}{}

	if len(keepSlugs) > 0 {
		placeholders := make([]string, len(keepSlugs))
		for i, slug := range keepSlugs {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, slug)
		}
		query += fmt.Sprintf(" AND slug NOT IN (%s)", strings.Join(placeholders, ", "))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate missing products: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// FindBySlug retrieves a product by its catalog slug
func (r *productRepository) FindBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	query := `
		SELECT id, slug, name, active, first_seen, last_seen
		FROM products
		WHERE slug = $1
	`

	product := &domain.Product{}
	err := r.db.QueryRowContext(ctx, query, slug).Scan(
		&product.ID,
		&product.Slug,
		&product.Name,
		&product.Active,
		&product.FirstSeen,
		&product.LastSeen,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by slug: %w", err)
	}

	return product, nil
}

// FindActive retrieves every product still present on the listing page,
// ordered by slug for stable partitioning across crawl workers.
func (r *productRepository) FindActive(ctx context.Context) ([]*domain.Product, error) {
	query := `
		SELECT id, slug, name, active, first_seen, last_seen
		FROM products
		WHERE active
		ORDER BY slug
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active products: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		product := &domain.Product{}
		err := rows.Scan(
			&product.ID,
			&product.Slug,
			&product.Name,
			&product.Active,
			&product.FirstSeen,
			&product.LastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

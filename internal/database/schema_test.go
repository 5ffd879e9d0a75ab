package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrationFilesExist(t *testing.T) {
	migrationsDir := "../../migrations"

	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		t.Fatal("Migrations directory does not exist")
	}

	expectedMigrations := []string{
		"00001_create_products_table.sql",
		"00002_create_price_offers_table.sql",
	}

	for _, migration := range expectedMigrations {
		path := filepath.Join(migrationsDir, migration)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Errorf("Migration file %s does not exist", migration)
		}
	}
}

func TestMigrationFilesHaveUpAndDown(t *testing.T) {
	migrationsDir := "../../migrations"

	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("Failed to read migrations directory: %v", err)
	}

	sqlFileCount := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		sqlFileCount++
		content, err := os.ReadFile(filepath.Join(migrationsDir, file.Name()))
		if err != nil {
			t.Errorf("Failed to read migration file %s: %v", file.Name(), err)
			continue
		}

		contentStr := string(content)

		for _, directive := range []string{
			"-- +goose Up",
			"-- +goose Down",
			"-- +goose StatementBegin",
			"-- +goose StatementEnd",
		} {
			if !strings.Contains(contentStr, directive) {
				t.Errorf("Migration file %s missing '%s' directive", file.Name(), directive)
			}
		}
	}

	if sqlFileCount == 0 {
		t.Error("No SQL migration files found")
	}
}

func TestProductsTableHasRequiredColumns(t *testing.T) {
	path := filepath.Join("../../migrations", "00001_create_products_table.sql")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read products migration: %v", err)
	}

	contentStr := string(content)
	requiredColumns := []string{
		"id UUID PRIMARY KEY",
		"slug VARCHAR(255) UNIQUE NOT NULL",
		"name VARCHAR",
		"active BOOLEAN NOT NULL DEFAULT TRUE",
		"first_seen TIMESTAMPTZ",
		"last_seen TIMESTAMPTZ",
	}

	for _, column := range requiredColumns {
		if !strings.Contains(contentStr, column) {
			t.Errorf("Products table missing required column definition: %s", column)
		}
	}
}

func TestPriceOffersTableHasNaturalKeyConstraint(t *testing.T) {
	path := filepath.Join("../../migrations", "00002_create_price_offers_table.sql")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read price_offers migration: %v", err)
	}

	contentStr := string(content)

	if !strings.Contains(contentStr, "UNIQUE (product_id, pharmacy_name, price, expiration, fetched_at)") {
		t.Error("price_offers table missing unique constraint on the observation natural key")
	}

	if !strings.Contains(contentStr, "FOREIGN KEY (product_id)") {
		t.Error("price_offers table missing foreign key constraint to products")
	}

	if !strings.Contains(contentStr, "CHECK (price >= 0)") {
		t.Error("price_offers table missing non-negative price check")
	}
}

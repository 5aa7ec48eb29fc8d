package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// seedNamespace derives stable ids, so running Seed twice updates the same rows.
var seedNamespace = uuid.MustParse("6f1c4b0e-9a55-4d59-8f0a-3c2f7d1e8b40")

func seedID(name string) uuid.UUID {
	return uuid.NewSHA1(seedNamespace, []byte(name))
}

// SeedResult lists the ids of the demo master data.
type SeedResult struct {
	OrganizationID uuid.UUID            `json:"organization_id"`
	WarehouseID    uuid.UUID            `json:"warehouse_id"`
	Bins           map[string]uuid.UUID `json:"bins"`
	Units          map[string]uuid.UUID `json:"units"`
	Variants       map[string]uuid.UUID `json:"variants"`
}

// Seed restores a small demo organization: one warehouse with four bins, EA,
// BOX and PK units with conversions to EA, and two widget variants. Existing
// rows are updated in place; ledger data is never touched.
func Seed(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) (SeedResult, error) {
	res := SeedResult{
		OrganizationID: seedID("org"),
		WarehouseID:    seedID("warehouse/MAIN"),
		Bins:           map[string]uuid.UUID{},
		Units:          map[string]uuid.UUID{},
		Variants:       map[string]uuid.UUID{},
	}
	for _, b := range []string{"RECV", "A1", "A2", "A3"} {
		res.Bins[b] = seedID("bin/" + b)
	}
	for _, u := range []string{"EA", "BOX", "PK"} {
		res.Units[u] = seedID("uom/" + u)
	}
	for _, v := range []string{"WIDG-STD", "WIDG-LRG"} {
		res.Variants[v] = seedID("variant/" + v)
	}
	product := seedID("product/widget")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	log.Info("restoring organization")
	if _, err := tx.Exec(ctx, `
		INSERT INTO organizations (id, name) VALUES ($1, 'Demo Warehouse Co')
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, res.OrganizationID); err != nil {
		return res, fmt.Errorf("failed to restore organization: %w", err)
	}

	log.Info("restoring units of measure")
	if _, err := tx.Exec(ctx, `
		INSERT INTO units_of_measure (id, organization_id, abbreviation, name)
		VALUES ($2, $1, 'EA', 'Each'), ($3, $1, 'BOX', 'Box of 12'), ($4, $1, 'PK', 'Pack of 6')
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, res.OrganizationID, res.Units["EA"], res.Units["BOX"], res.Units["PK"]); err != nil {
		return res, fmt.Errorf("failed to restore units: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO uom_conversions (organization_id, from_uom_id, to_uom_id, factor)
		VALUES ($1, $2, $4, 12), ($1, $3, $4, 6)
		ON CONFLICT (organization_id, from_uom_id, to_uom_id) DO UPDATE SET factor = EXCLUDED.factor
	`, res.OrganizationID, res.Units["BOX"], res.Units["PK"], res.Units["EA"]); err != nil {
		return res, fmt.Errorf("failed to restore conversions: %w", err)
	}

	log.Info("restoring warehouse and bins")
	if _, err := tx.Exec(ctx, `
		INSERT INTO warehouses (id, organization_id, code, name) VALUES ($1, $2, 'MAIN', 'Main warehouse')
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, res.WarehouseID, res.OrganizationID); err != nil {
		return res, fmt.Errorf("failed to restore warehouse: %w", err)
	}
	for code, id := range res.Bins {
		if _, err := tx.Exec(ctx, `
			INSERT INTO bins (id, warehouse_id, code) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, id, res.WarehouseID, code); err != nil {
			return res, fmt.Errorf("failed to restore bin %s: %w", code, err)
		}
	}

	log.Info("restoring products")
	if _, err := tx.Exec(ctx, `
		INSERT INTO products (id, organization_id, name) VALUES ($1, $2, 'Widget')
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, product, res.OrganizationID); err != nil {
		return res, fmt.Errorf("failed to restore product: %w", err)
	}
	for sku, id := range res.Variants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO variants (id, product_id, organization_id, sku, base_uom_id) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, id, product, res.OrganizationID, sku, res.Units["EA"]); err != nil {
			return res, fmt.Errorf("failed to restore variant %s: %w", sku, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("failed to commit: %w", err)
	}
	log.Info("seed data restored")
	return res, nil
}

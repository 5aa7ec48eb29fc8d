package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"inventory-ledger/internal/core"
)

// ── Master data ──────────────────────────────────────────────────────────────

func (s *Store) Variant(ctx context.Context, id uuid.UUID) (core.Variant, error) {
	var v core.Variant
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, sku, base_uom_id FROM variants WHERE id = $1
	`, id).Scan(&v.ID, &v.OrganizationID, &v.SKU, &v.BaseUOMID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Variant{}, core.ErrNotFound
		}
		return core.Variant{}, fmt.Errorf("failed to fetch variant %s: %w", id, err)
	}
	return v, nil
}

func (s *Store) Bin(ctx context.Context, id uuid.UUID) (core.Bin, error) {
	var b core.Bin
	err := s.pool.QueryRow(ctx, `
		SELECT b.id, b.warehouse_id, w.organization_id, b.code
		FROM bins b
		JOIN warehouses w ON w.id = b.warehouse_id
		WHERE b.id = $1
	`, id).Scan(&b.ID, &b.WarehouseID, &b.OrganizationID, &b.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Bin{}, core.ErrNotFound
		}
		return core.Bin{}, fmt.Errorf("failed to fetch bin %s: %w", id, err)
	}
	return b, nil
}

func (s *Store) UnitOfMeasure(ctx context.Context, id uuid.UUID) (core.UnitOfMeasure, error) {
	var u core.UnitOfMeasure
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, abbreviation FROM units_of_measure WHERE id = $1
	`, id).Scan(&u.ID, &u.OrganizationID, &u.Abbreviation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.UnitOfMeasure{}, core.ErrNotFound
		}
		return core.UnitOfMeasure{}, fmt.Errorf("failed to fetch unit %s: %w", id, err)
	}
	return u, nil
}

func (s *Store) Conversion(ctx context.Context, orgID, fromUOM, toUOM uuid.UUID) (core.UOMConversion, error) {
	c := core.UOMConversion{OrganizationID: orgID, FromUOMID: fromUOM, ToUOMID: toUOM}
	err := s.pool.QueryRow(ctx, `
		SELECT factor FROM uom_conversions
		WHERE organization_id = $1 AND from_uom_id = $2 AND to_uom_id = $3
	`, orgID, fromUOM, toUOM).Scan(&c.Factor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.UOMConversion{}, core.ErrConversionNotFound
		}
		return core.UOMConversion{}, fmt.Errorf("failed to fetch uom conversion: %w", err)
	}
	return c, nil
}

func (s *Store) UpsertConversion(ctx context.Context, c core.UOMConversion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO uom_conversions (organization_id, from_uom_id, to_uom_id, factor)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, from_uom_id, to_uom_id) DO UPDATE SET factor = EXCLUDED.factor
	`, c.OrganizationID, c.FromUOMID, c.ToUOMID, c.Factor)
	if err != nil {
		return fmt.Errorf("failed to upsert uom conversion: %w", err)
	}
	return nil
}

// ── Levels ───────────────────────────────────────────────────────────────────

const levelColumns = `l.variant_id, l.bin_id, l.warehouse_id, l.on_hand, l.allocated, l.safety_stock, l.reorder_point, l.updated_at`

func scanLevel(row pgx.Row) (core.InventoryLevel, error) {
	var l core.InventoryLevel
	err := row.Scan(&l.VariantID, &l.BinID, &l.WarehouseID, &l.OnHand, &l.Allocated,
		&l.SafetyStock, &l.ReorderPoint, &l.UpdatedAt)
	return l, err
}

func (s *Store) GetLevel(ctx context.Context, key core.LevelKey) (core.InventoryLevel, bool, error) {
	l, err := scanLevel(s.pool.QueryRow(ctx, `
		SELECT `+levelColumns+` FROM inventory_levels l WHERE l.variant_id = $1 AND l.bin_id = $2
	`, key.VariantID, key.BinID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.InventoryLevel{}, false, nil
		}
		return core.InventoryLevel{}, false, fmt.Errorf("failed to fetch level %s: %w", key, err)
	}
	return l, true, nil
}

func (s *Store) ListLevels(ctx context.Context, f core.LevelFilter) ([]core.InventoryLevel, error) {
	var w where
	if f.OrganizationID != uuid.Nil {
		w.add("v.organization_id = $%d", f.OrganizationID)
	}
	if f.WarehouseID != uuid.Nil {
		w.add("l.warehouse_id = $%d", f.WarehouseID)
	}
	if f.BinID != uuid.Nil {
		w.add("l.bin_id = $%d", f.BinID)
	}
	if f.VariantID != uuid.Nil {
		w.add("l.variant_id = $%d", f.VariantID)
	}
	query := `SELECT ` + levelColumns + ` FROM inventory_levels l JOIN variants v ON v.id = l.variant_id` + w.sql()
	if f.BelowReorder {
		if len(w.clauses) == 0 {
			query += " WHERE "
		} else {
			query += " AND "
		}
		query += "l.reorder_point > 0 AND GREATEST(l.on_hand - l.allocated, 0) <= l.reorder_point"
	}
	query += " ORDER BY l.bin_id, l.variant_id"
	if f.Limit > 0 {
		query += " LIMIT " + w.arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + w.arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels: %w", err)
	}
	defer rows.Close()

	var out []core.InventoryLevel
	for rows.Next() {
		l, err := scanLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ── Ledger ───────────────────────────────────────────────────────────────────

const transactionColumns = `seq, id, organization_id, variant_id, uom_id, qty, type,
	warehouse_from_id, bin_from_id, warehouse_to_id, bin_to_id, batch_id, serial_id,
	source_type, source_id, occurred_at, recorded_at, note`

func (s *Store) ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.InventoryTransaction, error) {
	var w where
	w.add("seq > $%d", f.AfterSeq)
	if f.OrganizationID != uuid.Nil {
		w.add("organization_id = $%d", f.OrganizationID)
	}
	if f.VariantID != uuid.Nil {
		w.add("variant_id = $%d", f.VariantID)
	}
	if f.BinID != uuid.Nil {
		w.add("(bin_from_id = $%[1]d OR bin_to_id = $%[1]d)", f.BinID)
	}
	if f.Type != "" {
		w.add("type = $%d", string(f.Type))
	}
	if f.SourceType != "" {
		w.add("source_type = $%d", f.SourceType)
	}
	if f.SourceID != "" {
		w.add("source_id = $%d", f.SourceID)
	}
	if !f.From.IsZero() {
		w.add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		w.add("occurred_at < $%d", f.To)
	}
	query := `SELECT ` + transactionColumns + ` FROM inventory_transactions` + w.sql() + ` ORDER BY seq`
	if f.Limit > 0 {
		query += " LIMIT " + w.arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.InventoryTransaction
	for rows.Next() {
		var t core.InventoryTransaction
		var typ string
		if err := rows.Scan(&t.Seq, &t.ID, &t.OrganizationID, &t.VariantID, &t.UOMID, &t.Qty, &typ,
			&t.WarehouseFromID, &t.BinFromID, &t.WarehouseToID, &t.BinToID, &t.BatchID, &t.SerialID,
			&t.SourceType, &t.SourceID, &t.OccurredAt, &t.RecordedAt, &t.Note); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = core.TransactionType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ── Reservations ─────────────────────────────────────────────────────────────

func (s *Store) GetReservation(ctx context.Context, id uuid.UUID) (core.Reservation, error) {
	r, err := scanReservation(s.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Reservation{}, core.ErrNotFound
		}
		return core.Reservation{}, fmt.Errorf("failed to fetch reservation %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) ListReservations(ctx context.Context, f core.ReservationFilter) ([]core.Reservation, error) {
	var w where
	if f.SOLineID != uuid.Nil {
		w.add("so_line_id = $%d", f.SOLineID)
	}
	if f.VariantID != uuid.Nil {
		w.add("variant_id = $%d", f.VariantID)
	}
	if f.BinID != uuid.Nil {
		w.add("bin_id = $%d", f.BinID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations` + w.sql() + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += " LIMIT " + w.arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var out []core.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Feed cursor ──────────────────────────────────────────────────────────────

func (s *Store) FeedCursor(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT seq FROM feed_cursors WHERE name = $1`, name).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read feed cursor %s: %w", name, err)
	}
	return seq, nil
}

func (s *Store) SaveFeedCursor(ctx context.Context, name string, seq int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feed_cursors (name, seq, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET seq = EXCLUDED.seq, updated_at = now()
	`, name, seq)
	if err != nil {
		return fmt.Errorf("failed to save feed cursor %s: %w", name, err)
	}
	return nil
}

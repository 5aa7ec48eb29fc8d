package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/documents"
)

// Documents implements documents.Repository on PostgreSQL.
type Documents struct {
	pool *pgxpool.Pool
}

var _ documents.Repository = (*Documents)(nil)

func NewDocuments(pool *pgxpool.Pool) *Documents {
	return &Documents{pool: pool}
}

// nullable maps uuid.Nil to SQL NULL.
func nullable(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func orNil(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func newID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, core.ErrNotFound)
	}
	return fmt.Errorf("failed to fetch %s %s: %w", what, id, err)
}

// ── Create ───────────────────────────────────────────────────────────────────

func (d *Documents) CreateGoodsReceipt(ctx context.Context, gr *documents.GoodsReceipt) error {
	newID(&gr.ID)
	if gr.Status == "" {
		gr.Status = documents.StatusDraft
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO goods_receipts (id, organization_id, code, status, received_at) VALUES ($1, $2, $3, $4, $5)
	`, gr.ID, gr.OrganizationID, gr.Code, string(gr.Status), gr.ReceivedAt); err != nil {
		return fmt.Errorf("failed to insert goods receipt: %w", err)
	}
	for i := range gr.Lines {
		l := &gr.Lines[i]
		newID(&l.ID)
		if _, err := tx.Exec(ctx, `
			INSERT INTO goods_receipt_lines (id, receipt_id, line_no, po_line_id, variant_id, bin_id, uom_id, qty, batch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, l.ID, gr.ID, i+1, l.POLineID, l.VariantID, l.BinID, nullable(l.UOMID), l.Qty, l.BatchID); err != nil {
			return fmt.Errorf("failed to insert goods receipt line %d: %w", i+1, err)
		}
	}
	return tx.Commit(ctx)
}

func (d *Documents) CreateShipment(ctx context.Context, sh *documents.Shipment) error {
	newID(&sh.ID)
	if sh.Status == "" {
		sh.Status = documents.StatusDraft
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO shipments (id, organization_id, code, status, shipped_at) VALUES ($1, $2, $3, $4, $5)
	`, sh.ID, sh.OrganizationID, sh.Code, string(sh.Status), sh.ShippedAt); err != nil {
		return fmt.Errorf("failed to insert shipment: %w", err)
	}
	for i := range sh.Lines {
		l := &sh.Lines[i]
		newID(&l.ID)
		if _, err := tx.Exec(ctx, `
			INSERT INTO shipment_lines (id, shipment_id, line_no, so_line_id, variant_id, bin_id, uom_id, qty, batch_id, serial_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, l.ID, sh.ID, i+1, l.SOLineID, l.VariantID, l.BinID, nullable(l.UOMID), l.Qty, l.BatchID, l.SerialID); err != nil {
			return fmt.Errorf("failed to insert shipment line %d: %w", i+1, err)
		}
	}
	return tx.Commit(ctx)
}

func (d *Documents) CreateStockTransfer(ctx context.Context, st *documents.StockTransfer) error {
	newID(&st.ID)
	if st.Status == "" {
		st.Status = documents.StatusDraft
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_transfers (id, organization_id, code, status, transferred_at) VALUES ($1, $2, $3, $4, $5)
	`, st.ID, st.OrganizationID, st.Code, string(st.Status), st.TransferredAt); err != nil {
		return fmt.Errorf("failed to insert stock transfer: %w", err)
	}
	for i := range st.Lines {
		l := &st.Lines[i]
		newID(&l.ID)
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_transfer_lines (id, transfer_id, line_no, variant_id, from_bin_id, to_bin_id, uom_id, qty, batch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, l.ID, st.ID, i+1, l.VariantID, l.FromBinID, l.ToBinID, nullable(l.UOMID), l.Qty, l.BatchID); err != nil {
			return fmt.Errorf("failed to insert stock transfer line %d: %w", i+1, err)
		}
	}
	return tx.Commit(ctx)
}

func (d *Documents) CreateStockCount(ctx context.Context, sc *documents.StockCount) error {
	newID(&sc.ID)
	if sc.Status == "" {
		sc.Status = documents.StatusOpen
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_counts (id, warehouse_id, code, status, counted_at) VALUES ($1, $2, $3, $4, $5)
	`, sc.ID, sc.WarehouseID, sc.Code, string(sc.Status), sc.CountedAt); err != nil {
		return fmt.Errorf("failed to insert stock count: %w", err)
	}
	if err := insertCountLines(ctx, tx, sc.ID, sc.Lines); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertCountLines(ctx context.Context, tx pgx.Tx, countID uuid.UUID, lines []documents.CountLine) error {
	for i := range lines {
		l := &lines[i]
		newID(&l.ID)
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_count_lines (id, count_id, line_no, variant_id, bin_id, uom_id, counted_qty, variance_note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, l.ID, countID, i+1, l.VariantID, l.BinID, nullable(l.UOMID), l.CountedQty, l.VarianceNote); err != nil {
			return fmt.Errorf("failed to insert count line %d: %w", i+1, err)
		}
	}
	return nil
}

// ── Read ─────────────────────────────────────────────────────────────────────

func (d *Documents) GoodsReceipt(ctx context.Context, id uuid.UUID) (documents.GoodsReceipt, error) {
	var gr documents.GoodsReceipt
	var status string
	err := d.pool.QueryRow(ctx, `
		SELECT id, organization_id, code, status, received_at FROM goods_receipts WHERE id = $1
	`, id).Scan(&gr.ID, &gr.OrganizationID, &gr.Code, &status, &gr.ReceivedAt)
	if err != nil {
		return documents.GoodsReceipt{}, notFound(err, "goods receipt", id)
	}
	gr.Status = documents.Status(status)

	rows, err := d.pool.Query(ctx, `
		SELECT id, po_line_id, variant_id, bin_id, uom_id, qty, batch_id, posted_at
		FROM goods_receipt_lines WHERE receipt_id = $1 ORDER BY line_no
	`, id)
	if err != nil {
		return documents.GoodsReceipt{}, fmt.Errorf("failed to query goods receipt lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l documents.GRLine
		var uom *uuid.UUID
		if err := rows.Scan(&l.ID, &l.POLineID, &l.VariantID, &l.BinID, &uom, &l.Qty, &l.BatchID, &l.PostedAt); err != nil {
			return documents.GoodsReceipt{}, fmt.Errorf("failed to scan goods receipt line: %w", err)
		}
		l.UOMID = orNil(uom)
		gr.Lines = append(gr.Lines, l)
	}
	return gr, rows.Err()
}

func (d *Documents) Shipment(ctx context.Context, id uuid.UUID) (documents.Shipment, error) {
	var sh documents.Shipment
	var status string
	err := d.pool.QueryRow(ctx, `
		SELECT id, organization_id, code, status, shipped_at FROM shipments WHERE id = $1
	`, id).Scan(&sh.ID, &sh.OrganizationID, &sh.Code, &status, &sh.ShippedAt)
	if err != nil {
		return documents.Shipment{}, notFound(err, "shipment", id)
	}
	sh.Status = documents.Status(status)

	rows, err := d.pool.Query(ctx, `
		SELECT id, so_line_id, variant_id, bin_id, uom_id, qty, batch_id, serial_id, posted_at
		FROM shipment_lines WHERE shipment_id = $1 ORDER BY line_no
	`, id)
	if err != nil {
		return documents.Shipment{}, fmt.Errorf("failed to query shipment lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l documents.ShipmentLine
		var uom *uuid.UUID
		if err := rows.Scan(&l.ID, &l.SOLineID, &l.VariantID, &l.BinID, &uom, &l.Qty, &l.BatchID, &l.SerialID, &l.PostedAt); err != nil {
			return documents.Shipment{}, fmt.Errorf("failed to scan shipment line: %w", err)
		}
		l.UOMID = orNil(uom)
		sh.Lines = append(sh.Lines, l)
	}
	return sh, rows.Err()
}

func (d *Documents) StockTransfer(ctx context.Context, id uuid.UUID) (documents.StockTransfer, error) {
	var st documents.StockTransfer
	var status string
	err := d.pool.QueryRow(ctx, `
		SELECT id, organization_id, code, status, transferred_at FROM stock_transfers WHERE id = $1
	`, id).Scan(&st.ID, &st.OrganizationID, &st.Code, &status, &st.TransferredAt)
	if err != nil {
		return documents.StockTransfer{}, notFound(err, "stock transfer", id)
	}
	st.Status = documents.Status(status)

	rows, err := d.pool.Query(ctx, `
		SELECT id, variant_id, from_bin_id, to_bin_id, uom_id, qty, batch_id, posted_at
		FROM stock_transfer_lines WHERE transfer_id = $1 ORDER BY line_no
	`, id)
	if err != nil {
		return documents.StockTransfer{}, fmt.Errorf("failed to query transfer lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l documents.TransferLine
		var uom *uuid.UUID
		if err := rows.Scan(&l.ID, &l.VariantID, &l.FromBinID, &l.ToBinID, &uom, &l.Qty, &l.BatchID, &l.PostedAt); err != nil {
			return documents.StockTransfer{}, fmt.Errorf("failed to scan transfer line: %w", err)
		}
		l.UOMID = orNil(uom)
		st.Lines = append(st.Lines, l)
	}
	return st, rows.Err()
}

func (d *Documents) StockCount(ctx context.Context, id uuid.UUID) (documents.StockCount, error) {
	var sc documents.StockCount
	var status string
	err := d.pool.QueryRow(ctx, `
		SELECT id, warehouse_id, code, status, counted_at, closed_at FROM stock_counts WHERE id = $1
	`, id).Scan(&sc.ID, &sc.WarehouseID, &sc.Code, &status, &sc.CountedAt, &sc.ClosedAt)
	if err != nil {
		return documents.StockCount{}, notFound(err, "stock count", id)
	}
	sc.Status = documents.Status(status)

	rows, err := d.pool.Query(ctx, `
		SELECT id, variant_id, bin_id, uom_id, counted_qty, variance, variance_note
		FROM stock_count_lines WHERE count_id = $1 ORDER BY line_no
	`, id)
	if err != nil {
		return documents.StockCount{}, fmt.Errorf("failed to query count lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l documents.CountLine
		var uom *uuid.UUID
		var variance decimal.NullDecimal
		if err := rows.Scan(&l.ID, &l.VariantID, &l.BinID, &uom, &l.CountedQty, &variance, &l.VarianceNote); err != nil {
			return documents.StockCount{}, fmt.Errorf("failed to scan count line: %w", err)
		}
		l.UOMID = orNil(uom)
		if variance.Valid {
			l.Variance = &variance.Decimal
		}
		sc.Lines = append(sc.Lines, l)
	}
	return sc, rows.Err()
}

func (d *Documents) POLine(ctx context.Context, id uuid.UUID) (documents.POLine, error) {
	var l documents.POLine
	err := d.pool.QueryRow(ctx, `
		SELECT id, organization_id, variant_id, qty_ordered, qty_received FROM purchase_order_lines WHERE id = $1
	`, id).Scan(&l.ID, &l.OrganizationID, &l.VariantID, &l.QtyOrdered, &l.QtyReceived)
	if err != nil {
		return documents.POLine{}, notFound(err, "purchase order line", id)
	}
	return l, nil
}

func (d *Documents) SOLine(ctx context.Context, id uuid.UUID) (documents.SOLine, error) {
	var l documents.SOLine
	var status string
	err := d.pool.QueryRow(ctx, `
		SELECT id, organization_id, variant_id, qty_ordered, qty_shipped, status FROM sales_order_lines WHERE id = $1
	`, id).Scan(&l.ID, &l.OrganizationID, &l.VariantID, &l.QtyOrdered, &l.QtyShipped, &status)
	if err != nil {
		return documents.SOLine{}, notFound(err, "sales order line", id)
	}
	l.Status = documents.Status(status)
	return l, nil
}

func (d *Documents) Sale(ctx context.Context, id uuid.UUID) (documents.Sale, error) {
	var s documents.Sale
	err := d.pool.QueryRow(ctx, `
		SELECT id, organization_id, variant_id, bin_id, qty, price_at_sale, total,
		       customer_name, customer_contact, sold_at, transaction_id
		FROM sales WHERE id = $1
	`, id).Scan(&s.ID, &s.OrganizationID, &s.VariantID, &s.BinID, &s.Qty, &s.PriceAtSale, &s.Total,
		&s.CustomerName, &s.CustomerContact, &s.SoldAt, &s.TransactionID)
	if err != nil {
		return documents.Sale{}, notFound(err, "sale", id)
	}
	return s, nil
}

// ── Bookkeeping ──────────────────────────────────────────────────────────────

// markLine stamps posted_at once and, on the first stamp only, runs bump
// against the referenced order line.
func (d *Documents) markLine(ctx context.Context, stamp string, lineID uuid.UUID, at time.Time, bump func(pgx.Tx) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, stamp, lineID, at)
	if err != nil {
		return fmt.Errorf("failed to stamp line %s: %w", lineID, err)
	}
	if tag.RowsAffected() == 1 && bump != nil {
		if err := bump(tx); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func bumpOrderLine(ctx context.Context, tx pgx.Tx, query string, id uuid.UUID, qty decimal.Decimal) error {
	tag, err := tx.Exec(ctx, query, id, qty)
	if err != nil {
		return fmt.Errorf("failed to update order line %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order line %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (d *Documents) MarkReceiptLinePosted(ctx context.Context, line documents.GRLine, qty decimal.Decimal, at time.Time) error {
	var bump func(pgx.Tx) error
	if line.POLineID != nil {
		bump = func(tx pgx.Tx) error {
			return bumpOrderLine(ctx, tx,
				`UPDATE purchase_order_lines SET qty_received = qty_received + $2 WHERE id = $1`, *line.POLineID, qty)
		}
	}
	return d.markLine(ctx,
		`UPDATE goods_receipt_lines SET posted_at = $2 WHERE id = $1 AND posted_at IS NULL`, line.ID, at, bump)
}

func (d *Documents) MarkShipmentLinePosted(ctx context.Context, line documents.ShipmentLine, qty decimal.Decimal, at time.Time) error {
	var bump func(pgx.Tx) error
	if line.SOLineID != nil {
		bump = func(tx pgx.Tx) error {
			return bumpOrderLine(ctx, tx,
				`UPDATE sales_order_lines SET qty_shipped = qty_shipped + $2 WHERE id = $1`, *line.SOLineID, qty)
		}
	}
	return d.markLine(ctx,
		`UPDATE shipment_lines SET posted_at = $2 WHERE id = $1 AND posted_at IS NULL`, line.ID, at, bump)
}

func (d *Documents) MarkTransferLinePosted(ctx context.Context, lineID uuid.UUID, at time.Time) error {
	return d.markLine(ctx,
		`UPDATE stock_transfer_lines SET posted_at = $2 WHERE id = $1 AND posted_at IS NULL`, lineID, at, nil)
}

var statusTables = map[documents.Kind]string{
	documents.KindGoodsReceipt:  "goods_receipts",
	documents.KindShipment:      "shipments",
	documents.KindStockTransfer: "stock_transfers",
	documents.KindStockCount:    "stock_counts",
}

func (d *Documents) SetStatus(ctx context.Context, kind documents.Kind, id uuid.UUID, status documents.Status) error {
	table, ok := statusTables[kind]
	if !ok {
		return fmt.Errorf("unknown document kind %q", kind)
	}
	tag, err := d.pool.Exec(ctx, `UPDATE `+table+` SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set %s status: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	return nil
}

func (d *Documents) ReplaceCountLines(ctx context.Context, countID uuid.UUID, lines []documents.CountLine) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM stock_counts WHERE id = $1 FOR UPDATE`, countID).Scan(&status)
	if err != nil {
		return notFound(err, "stock count", countID)
	}
	if documents.Status(status) != documents.StatusOpen {
		return fmt.Errorf("stock count %s is %s: %w", countID, status, core.ErrValidation)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM stock_count_lines WHERE count_id = $1`, countID); err != nil {
		return fmt.Errorf("failed to clear count lines: %w", err)
	}
	if err := insertCountLines(ctx, tx, countID, lines); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (d *Documents) CloseStockCount(ctx context.Context, countID uuid.UUID, variances map[uuid.UUID]decimal.Decimal, at time.Time) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for lineID, v := range variances {
		if _, err := tx.Exec(ctx, `
			UPDATE stock_count_lines SET variance = $3 WHERE id = $1 AND count_id = $2
		`, lineID, countID, v); err != nil {
			return fmt.Errorf("failed to record variance for line %s: %w", lineID, err)
		}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE stock_counts SET status = 'CLOSED', closed_at = $2 WHERE id = $1
	`, countID, at)
	if err != nil {
		return fmt.Errorf("failed to close stock count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock count %s: %w", countID, core.ErrNotFound)
	}
	return tx.Commit(ctx)
}

func (d *Documents) CancelSOLine(ctx context.Context, id uuid.UUID) error {
	tag, err := d.pool.Exec(ctx, `UPDATE sales_order_lines SET status = 'CANCELLED' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel sales order line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sales order line %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (d *Documents) InsertSale(ctx context.Context, s documents.Sale) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO sales (id, organization_id, variant_id, bin_id, qty, price_at_sale, total,
		                   customer_name, customer_contact, sold_at, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.OrganizationID, s.VariantID, s.BinID, s.Qty, s.PriceAtSale, s.Total,
		s.CustomerName, s.CustomerContact, s.SoldAt, s.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

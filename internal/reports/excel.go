// Package reports renders levels and the ledger as xlsx workbooks and reads
// filled-in count sheets back.
package reports

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/documents"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	levelHeader = []any{"variant_id", "bin_id", "warehouse_id", "on_hand", "allocated", "available",
		"safety_stock", "reorder_point", "below_reorder", "updated_at"}
	ledgerHeader = []any{"seq", "occurred_at", "type", "variant_id", "qty", "bin_from_id", "bin_to_id",
		"source_type", "source_id", "note"}
	countHeader = []any{"variant_id", "bin_id", "system_qty", "counted_qty", "note"}
)

// writeSheet fills the active sheet with header followed by rows and writes
// the workbook to w.
func writeSheet(w io.Writer, header []any, rows [][]any) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to address row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func qty(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func idOrBlank(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// ExportLevels writes one row per level.
func ExportLevels(w io.Writer, levels []core.InventoryLevel) error {
	rows := make([][]any, 0, len(levels))
	for _, l := range levels {
		rows = append(rows, []any{
			l.VariantID.String(), l.BinID.String(), l.WarehouseID.String(),
			qty(l.OnHand), qty(l.Allocated), qty(l.Available()),
			qty(l.SafetyStock), qty(l.ReorderPoint), l.BelowReorderPoint(),
			l.UpdatedAt.UTC().Format(timeLayout),
		})
	}
	return writeSheet(w, levelHeader, rows)
}

// ExportLedger writes ledger rows in the order given.
func ExportLedger(w io.Writer, txns []core.InventoryTransaction) error {
	rows := make([][]any, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, []any{
			t.Seq, t.OccurredAt.UTC().Format(timeLayout), string(t.Type), t.VariantID.String(), qty(t.Qty),
			idOrBlank(t.BinFromID), idOrBlank(t.BinToID), t.SourceType, t.SourceID, t.Note,
		})
	}
	return writeSheet(w, ledgerHeader, rows)
}

// ExportCountSheet writes a count template: current on-hand per level with an
// empty counted_qty column for the counter to fill.
func ExportCountSheet(w io.Writer, levels []core.InventoryLevel) error {
	rows := make([][]any, 0, len(levels))
	for _, l := range levels {
		rows = append(rows, []any{l.VariantID.String(), l.BinID.String(), qty(l.OnHand), "", ""})
	}
	return writeSheet(w, countHeader, rows)
}

// ImportCountSheet reads a filled count sheet. Columns are located by header
// name; rows with an empty counted_qty are skipped. Quantities are in the
// variant's base unit.
func ImportCountSheet(r io.Reader) ([]documents.CountLine, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: not a readable xlsx file: %v", core.ErrValidation, err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: count sheet has no data rows", core.ErrValidation)
	}

	col := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"variant_id", "bin_id", "counted_qty"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w: count sheet is missing column %q", core.ErrValidation, name)
		}
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var lines []documents.CountLine
	for n, row := range rows[1:] {
		rowNo := n + 2
		counted := cell(row, "counted_qty")
		if counted == "" {
			continue
		}
		variantID, err := uuid.Parse(cell(row, "variant_id"))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: bad variant_id", core.ErrValidation, rowNo)
		}
		binID, err := uuid.Parse(cell(row, "bin_id"))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: bad bin_id", core.ErrValidation, rowNo)
		}
		q, err := decimal.NewFromString(counted)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: counted_qty %q is not a number", core.ErrValidation, rowNo, counted)
		}
		if q.IsNegative() {
			return nil, fmt.Errorf("%w: row %d: counted_qty is negative", core.ErrValidation, rowNo)
		}
		lines = append(lines, documents.CountLine{
			VariantID:    variantID,
			BinID:        binID,
			CountedQty:   q,
			VarianceNote: cell(row, "note"),
		})
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no counted quantities in sheet", core.ErrValidation)
	}
	return lines, nil
}

// Filename builds a timestamped export name such as levels_20260301_090000.xlsx.
func Filename(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", prefix, at.Format("20060102_150405"))
}

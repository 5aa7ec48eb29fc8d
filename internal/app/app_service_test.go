package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/documents"
	"inventory-ledger/internal/store/memstore"
)

type fixture struct {
	store *memstore.Store
	repo  *memstore.Documents
	svc   ApplicationService

	org       uuid.UUID
	each, box uuid.UUID
	widget    core.Variant
	warehouse uuid.UUID
	a1, a2    core.Bin
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memstore.New(),
		repo:      memstore.NewDocuments(),
		org:       uuid.New(),
		each:      uuid.New(),
		box:       uuid.New(),
		warehouse: uuid.New(),
	}
	f.store.AddUnit(core.UnitOfMeasure{ID: f.each, OrganizationID: f.org, Abbreviation: "EA"})
	f.store.AddUnit(core.UnitOfMeasure{ID: f.box, OrganizationID: f.org, Abbreviation: "BOX"})
	f.widget = core.Variant{ID: uuid.New(), OrganizationID: f.org, SKU: "WIDG-STD", BaseUOMID: f.each}
	f.store.AddVariant(f.widget)
	f.a1 = core.Bin{ID: uuid.New(), WarehouseID: f.warehouse, OrganizationID: f.org, Code: "A1"}
	f.a2 = core.Bin{ID: uuid.New(), WarehouseID: f.warehouse, OrganizationID: f.org, Code: "A2"}
	f.store.AddBin(f.a1)
	f.store.AddBin(f.a2)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := core.NewUoMRegistry(f.store, nil, log)
	inv := core.NewInventoryService(f.store, registry, core.WithLogger(log))
	query := core.NewQueryService(f.store)
	f.svc = NewAppService(Deps{
		Inventory: inv,
		Query:     query,
		Documents: documents.NewService(f.repo, inv, query, log),
		Repo:      f.repo,
		UoM:       registry,
		Auditor:   core.NewAuditor(f.store),
		Retry:     RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond},
		Log:       log,
	})
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) receive(t *testing.T, bin core.Bin, qty string) {
	t.Helper()
	_, err := f.svc.PostReceipt(context.Background(), ReceiptRequest{
		SourceRef: core.SourceRef{Type: "GoodsReceiptLine", ID: uuid.NewString()},
		VariantID: f.widget.ID, BinID: bin.ID, Qty: dec(qty), OccurredAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestPostingsAndQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.UpsertConversion(ctx, ConversionRequest{
		OrganizationID: f.org, FromUOMID: f.box, ToUOMID: f.each, Factor: dec("12"),
	}))
	_, err := f.svc.PostReceipt(ctx, ReceiptRequest{
		SourceRef: core.SourceRef{Type: "GoodsReceiptLine", ID: "gr-1"},
		VariantID: f.widget.ID, BinID: f.a1.ID, UOMID: f.box, Qty: dec("2"), OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = f.svc.PostTransfer(ctx, TransferRequest{
		SourceRef: core.SourceRef{Type: "TransferLine", ID: "trf-1"},
		VariantID: f.widget.ID, FromBinID: f.a1.ID, ToBinID: f.a2.ID, Qty: dec("4"), OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	res, err := f.svc.PostAdjustment(ctx, AdjustmentRequest{
		SourceRef: core.SourceRef{Type: "Adjustment", ID: "adj-1"},
		VariantID: f.widget.ID, BinID: f.a2.ID, Delta: dec("-1"), OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, core.TxAdjust, res.Transaction.Type)

	lvl, err := f.svc.GetLevel(ctx, f.widget.ID, f.a1.ID)
	require.NoError(t, err)
	assert.True(t, lvl.Level.OnHand.Equal(dec("20")))
	assert.Equal(t, "20", lvl.Available)

	levels, err := f.svc.ListLevels(ctx, core.LevelFilter{WarehouseID: f.warehouse})
	require.NoError(t, err)
	assert.Equal(t, 2, levels.Count)

	page, err := f.svc.ListTransactions(ctx, core.TransactionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, page.Transactions[1].Seq, page.NextAfterSeq)

	rest, err := f.svc.ListTransactions(ctx, core.TransactionFilter{AfterSeq: page.NextAfterSeq})
	require.NoError(t, err)
	require.Len(t, rest.Transactions, 1)
	assert.Equal(t, core.TxAdjust, rest.Transactions[0].Type)

	audit, err := f.svc.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, audit.Clean)
}

func TestReserveShipAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.a1, "10")

	soLine := documents.SOLine{ID: uuid.New(), OrganizationID: f.org, VariantID: f.widget.ID, QtyOrdered: dec("6")}
	f.repo.AddSOLine(soLine)

	r, err := f.svc.Reserve(ctx, ReserveRequest{SOLineID: soLine.ID, VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("6")})
	require.NoError(t, err)
	assert.Equal(t, core.ReservationActive, r.Reservation.Status)

	_, err = f.svc.PostShipment(ctx, ShipmentRequest{
		SourceRef: core.SourceRef{Type: "ShipmentLine", ID: "shp-1"},
		VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("2"), SOLineID: &soLine.ID, OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelSOLine(ctx, soLine.ID)
	require.NoError(t, err)
	require.Len(t, cancelled.Reservations, 1)
	assert.Equal(t, core.ReservationReleased, cancelled.Reservations[0].Status)

	lvl, err := f.svc.GetLevel(ctx, f.widget.ID, f.a1.ID)
	require.NoError(t, err)
	assert.True(t, lvl.Level.OnHand.Equal(dec("8")))
	assert.True(t, lvl.Level.Allocated.IsZero())
}

func TestPostingErrorsKeepTheirKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.a1, "1")

	_, err := f.svc.PostIssue(ctx, IssueRequest{
		SourceRef: core.SourceRef{Type: "Issue", ID: "iss-1"},
		VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("5"), OccurredAt: time.Now(),
	})
	assert.True(t, errors.Is(err, core.ErrInsufficientStock), "got %v", err)

	_, err = f.svc.PostDocument(ctx, documents.Kind("invoice"), uuid.New())
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = f.svc.PostDocument(ctx, documents.KindGoodsReceipt, uuid.New())
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestPostCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.a1, "10")

	res, err := f.svc.PostCount(ctx, CountRequest{
		ID: uuid.New(), Code: "CNT-ADHOC", WarehouseID: f.warehouse, OccurredAt: time.Now(),
		Lines: []CountLineRequest{
			{VariantID: f.widget.ID, BinID: f.a1.ID, CountedQty: dec("7")},
			{VariantID: f.widget.ID, BinID: f.a2.ID, CountedQty: dec("0")},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.True(t, res.Transactions[0].Qty.Equal(dec("3")))
}

func TestCountSheetImportAndClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.a1, "10")

	sc := &documents.StockCount{WarehouseID: f.warehouse, Code: "CNT-001", CountedAt: time.Now()}
	require.NoError(t, f.repo.CreateStockCount(ctx, sc))

	var sheet bytes.Buffer
	require.NoError(t, f.svc.ExportCountSheet(ctx, &sheet, f.warehouse))

	wb, err := excelize.OpenReader(bytes.NewReader(sheet.Bytes()))
	require.NoError(t, err)
	name := wb.GetSheetName(wb.GetActiveSheetIndex())
	require.NoError(t, wb.SetCellValue(name, "D2", "9"))
	var filled bytes.Buffer
	_, err = wb.WriteTo(&filled)
	require.NoError(t, err)
	require.NoError(t, wb.Close())

	imported, err := f.svc.ImportCountSheet(ctx, sc.ID, &filled)
	require.NoError(t, err)
	assert.Equal(t, 1, imported.Lines)

	res, err := f.svc.PostDocument(ctx, documents.KindStockCount, sc.ID)
	require.NoError(t, err)
	require.Len(t, res.Posted, 1)

	lvl, err := f.svc.GetLevel(ctx, f.widget.ID, f.a1.ID)
	require.NoError(t, err)
	assert.True(t, lvl.Level.OnHand.Equal(dec("9")))
}

func TestExportCountSheetNeedsWarehouse(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ExportCountSheet(context.Background(), io.Discard, uuid.Nil)
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestExportLedgerPagesThroughEverything(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.receive(t, f.a1, "1")
	}
	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportLedger(context.Background(), &buf, core.TransactionFilter{}))

	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = wb.Close() }()
	rows, err := wb.GetRows(wb.GetSheetName(wb.GetActiveSheetIndex()))
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestWithRetry(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	ctx := context.Background()

	t.Run("lock timeouts are retried", func(t *testing.T) {
		calls := 0
		v, err := withRetry(ctx, p, func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, &core.PostingError{Kind: core.ErrLockTimeout, Op: "post_receipt"}
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		calls := 0
		_, err := withRetry(ctx, p, func(context.Context) (int, error) {
			calls++
			return 0, core.ErrLockTimeout
		})
		assert.True(t, errors.Is(err, core.ErrLockTimeout))
		assert.Equal(t, 3, calls)
	})

	t.Run("other errors return at once", func(t *testing.T) {
		calls := 0
		_, err := withRetry(ctx, p, func(context.Context) (int, error) {
			calls++
			return 0, core.ErrInsufficientStock
		})
		assert.True(t, errors.Is(err, core.ErrInsufficientStock))
		assert.Equal(t, 1, calls)
	})
}

package documents_test

import (
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

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/documents"
	"inventory-ledger/internal/store/memstore"
)

type fixture struct {
	store *memstore.Store
	repo  *memstore.Documents
	inv   core.InventoryService
	query core.QueryService
	svc   documents.Service

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
	require.NoError(t, registry.UpsertConversion(context.Background(), core.UOMConversion{
		OrganizationID: f.org, FromUOMID: f.box, ToUOMID: f.each, Factor: decimal.NewFromInt(12),
	}))
	f.inv = core.NewInventoryService(f.store, registry, core.WithLogger(log))
	f.query = core.NewQueryService(f.store)
	f.svc = documents.NewService(f.repo, f.inv, f.query, log)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) onHand(t *testing.T, bin core.Bin) decimal.Decimal {
	t.Helper()
	lvl, err := f.query.GetLevel(context.Background(), f.widget.ID, bin.ID)
	require.NoError(t, err)
	return lvl.OnHand
}

func (f *fixture) stock(t *testing.T, bin core.Bin, qty string) {
	t.Helper()
	gr := &documents.GoodsReceipt{OrganizationID: f.org, Code: "GR-SEED-" + uuid.NewString()[:8], ReceivedAt: time.Now(),
		Lines: []documents.GRLine{{VariantID: f.widget.ID, BinID: bin.ID, Qty: dec(qty)}}}
	require.NoError(t, f.repo.CreateGoodsReceipt(context.Background(), gr))
	_, err := f.svc.PostGoodsReceipt(context.Background(), gr.ID)
	require.NoError(t, err)
}

func TestPostGoodsReceipt_UpdatesLevelsAndPOLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	poLine := documents.POLine{ID: uuid.New(), OrganizationID: f.org, VariantID: f.widget.ID, QtyOrdered: dec("5")}
	f.repo.AddPOLine(poLine)

	gr := &documents.GoodsReceipt{OrganizationID: f.org, Code: "GR-001", ReceivedAt: time.Now(), Lines: []documents.GRLine{
		{POLineID: &poLine.ID, VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("2"), UOMID: f.box},
		{POLineID: &poLine.ID, VariantID: f.widget.ID, BinID: f.a2.ID, Qty: dec("3")},
	}}
	require.NoError(t, f.repo.CreateGoodsReceipt(ctx, gr))

	res, err := f.svc.PostGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	assert.Len(t, res.Posted, 2)
	assert.Empty(t, res.Skipped)

	assert.True(t, f.onHand(t, f.a1).Equal(dec("24")))
	assert.True(t, f.onHand(t, f.a2).Equal(dec("3")))

	po, err := f.repo.POLine(ctx, poLine.ID)
	require.NoError(t, err)
	// 2 BOX of 12 plus 3 EA, counted in the base unit
	assert.True(t, po.QtyReceived.Equal(dec("27")), "qty_received %s", po.QtyReceived)

	stored, err := f.repo.GoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusPosted, stored.Status)
	for _, l := range stored.Lines {
		assert.NotNil(t, l.PostedAt)
	}
}

func TestPostGoodsReceipt_RepostIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gr := &documents.GoodsReceipt{OrganizationID: f.org, Code: "GR-002", ReceivedAt: time.Now(), Lines: []documents.GRLine{
		{VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("4")},
	}}
	require.NoError(t, f.repo.CreateGoodsReceipt(ctx, gr))
	_, err := f.svc.PostGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)

	res, err := f.svc.PostGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Posted)
	assert.Equal(t, []uuid.UUID{gr.Lines[0].ID}, res.Skipped)
	assert.True(t, f.onHand(t, f.a1).Equal(dec("4")))
}

func TestPostGoodsReceipt_ResumedLineCountsLedgerQty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	poLine := documents.POLine{ID: uuid.New(), OrganizationID: f.org, VariantID: f.widget.ID, QtyOrdered: dec("12")}
	f.repo.AddPOLine(poLine)
	gr := &documents.GoodsReceipt{OrganizationID: f.org, Code: "GR-003", ReceivedAt: time.Now(), Lines: []documents.GRLine{
		{POLineID: &poLine.ID, VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("1"), UOMID: f.box},
	}}
	require.NoError(t, f.repo.CreateGoodsReceipt(ctx, gr))

	// the stock movement committed but the document bookkeeping never ran
	_, err := f.inv.PostReceipt(ctx, core.ReceiptLine{
		Source:    core.SourceRef{Type: documents.SourceGoodsReceiptLine, ID: gr.Lines[0].ID.String()},
		VariantID: f.widget.ID, BinID: f.a1.ID, UOMID: f.box, Qty: dec("1"), OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	res, err := f.svc.PostGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Posted)
	assert.Equal(t, []uuid.UUID{gr.Lines[0].ID}, res.Skipped)
	assert.True(t, f.onHand(t, f.a1).Equal(dec("12")))

	po, err := f.repo.POLine(ctx, poLine.ID)
	require.NoError(t, err)
	assert.True(t, po.QtyReceived.Equal(dec("12")), "qty_received %s", po.QtyReceived)
}

func TestPostShipment_StopsAtFirstFailingLineAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.a1, "5")

	soLine := documents.SOLine{ID: uuid.New(), OrganizationID: f.org, VariantID: f.widget.ID, QtyOrdered: dec("9")}
	f.repo.AddSOLine(soLine)

	sh := &documents.Shipment{OrganizationID: f.org, Code: "SHP-001", ShippedAt: time.Now(), Lines: []documents.ShipmentLine{
		{SOLineID: &soLine.ID, VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("3")},
		{SOLineID: &soLine.ID, VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("6")},
	}}
	require.NoError(t, f.repo.CreateShipment(ctx, sh))

	res, err := f.svc.PostShipment(ctx, sh.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientStock))
	var lineErr *documents.LineError
	require.True(t, errors.As(err, &lineErr))
	assert.Equal(t, sh.Lines[1].ID, lineErr.LineID)
	assert.Len(t, res.Posted, 1)
	assert.True(t, f.onHand(t, f.a1).Equal(dec("2")))

	stored, err := f.repo.Shipment(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusDraft, stored.Status)

	// restock and retry: the first line is not shipped twice
	f.stock(t, f.a1, "4")
	res, err = f.svc.PostShipment(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{sh.Lines[0].ID}, res.Skipped)
	assert.Len(t, res.Posted, 1)
	assert.True(t, f.onHand(t, f.a1).Equal(dec("0")))

	so, err := f.repo.SOLine(ctx, soLine.ID)
	require.NoError(t, err)
	assert.True(t, so.QtyShipped.Equal(dec("9")), "qty_shipped %s", so.QtyShipped)
}

func TestPostTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.a1, "10")

	st := &documents.StockTransfer{OrganizationID: f.org, Code: "TRF-001", TransferredAt: time.Now(), Lines: []documents.TransferLine{
		{VariantID: f.widget.ID, FromBinID: f.a1.ID, ToBinID: f.a2.ID, Qty: dec("7")},
	}}
	require.NoError(t, f.repo.CreateStockTransfer(ctx, st))

	res, err := f.svc.PostTransfer(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, res.Posted, 1)
	assert.Equal(t, core.TxTransfer, res.Posted[0].Type)
	assert.True(t, f.onHand(t, f.a1).Equal(dec("3")))
	assert.True(t, f.onHand(t, f.a2).Equal(dec("7")))
}

func TestCloseAndPostCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.a1, "10")
	f.stock(t, f.a2, "4")

	sc := &documents.StockCount{WarehouseID: f.warehouse, Code: "CNT-001", CountedAt: time.Now(), Lines: []documents.CountLine{
		{VariantID: f.widget.ID, BinID: f.a1.ID, CountedQty: dec("8")},
		{VariantID: f.widget.ID, BinID: f.a2.ID, CountedQty: dec("4")},
	}}
	require.NoError(t, f.repo.CreateStockCount(ctx, sc))

	res, err := f.svc.CloseAndPostCount(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, res.Posted, 1, "unchanged line writes no entry")
	assert.True(t, res.Posted[0].Qty.Equal(dec("2")))
	assert.True(t, f.onHand(t, f.a1).Equal(dec("8")))

	stored, err := f.repo.StockCount(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusClosed, stored.Status)
	require.NotNil(t, stored.Lines[0].Variance)
	assert.True(t, stored.Lines[0].Variance.Equal(dec("-2")))
	require.NotNil(t, stored.Lines[1].Variance)
	assert.True(t, stored.Lines[1].Variance.IsZero())

	_, err = f.svc.CloseAndPostCount(ctx, sc.ID)
	assert.True(t, errors.Is(err, core.ErrAlreadyPosted))
}

func TestRecordSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.a1, "10")

	sale, err := f.svc.RecordSale(ctx, documents.SaleRequest{
		VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("3"), PriceAtSale: dec("19.99"), CustomerName: "Walk-in",
	})
	require.NoError(t, err)
	assert.True(t, sale.Total.Equal(dec("59.97")), "total %s", sale.Total)
	assert.Equal(t, f.org, sale.OrganizationID)
	assert.NotEqual(t, uuid.Nil, sale.TransactionID)
	assert.True(t, f.onHand(t, f.a1).Equal(dec("7")))

	txns, err := f.query.ListTransactions(ctx, core.TransactionFilter{SourceType: documents.SourceSale})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, core.TxShip, txns[0].Type)
	assert.Equal(t, sale.ID.String(), txns[0].SourceID)

	stored, err := f.repo.Sale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(sale.Total))
}

func TestRecordSale_RetryWithSameIDDoesNotShipTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.a1, "10")

	req := documents.SaleRequest{ID: uuid.New(), VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("2"), PriceAtSale: dec("5")}
	first, err := f.svc.RecordSale(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.RecordSale(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.True(t, f.onHand(t, f.a1).Equal(dec("8")))
}

func TestRecordSale_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordSale(ctx, documents.SaleRequest{VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("0"), PriceAtSale: dec("1")})
	assert.True(t, errors.Is(err, core.ErrValidation))
	_, err = f.svc.RecordSale(ctx, documents.SaleRequest{VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("1"), PriceAtSale: dec("-1")})
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = f.svc.RecordSale(ctx, documents.SaleRequest{VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("1"), PriceAtSale: dec("1")})
	assert.True(t, errors.Is(err, core.ErrInsufficientStock))
}

func TestCancelSOLine_ReleasesReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, f.a1, "10")

	soLine := documents.SOLine{ID: uuid.New(), OrganizationID: f.org, VariantID: f.widget.ID, QtyOrdered: dec("6")}
	f.repo.AddSOLine(soLine)
	for _, q := range []string{"2", "4"} {
		_, err := f.inv.Reserve(ctx, core.ReserveRequest{SOLineID: soLine.ID, VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec(q)})
		require.NoError(t, err)
	}

	released, err := f.svc.CancelSOLine(ctx, soLine.ID)
	require.NoError(t, err)
	assert.Len(t, released, 2)

	lvl, err := f.query.GetLevel(ctx, f.widget.ID, f.a1.ID)
	require.NoError(t, err)
	assert.True(t, lvl.Allocated.IsZero())

	so, err := f.repo.SOLine(ctx, soLine.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusCancelled, so.Status)

	_, err = f.svc.CancelSOLine(ctx, uuid.New())
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

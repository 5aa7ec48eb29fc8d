package core_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/store/memstore"
)

// fixture seeds one organization with a WIDG-STD variant counted in EA,
// a BOX unit (1 BOX = 12 EA), two bins in W1 and one bin in W2.
type fixture struct {
	store *memstore.Store
	svc   core.InventoryService
	query core.QueryService

	org       uuid.UUID
	each, box uuid.UUID
	crate     uuid.UUID
	widget    core.Variant
	w1, w2    uuid.UUID
	a1, a2    core.Bin
	b1        core.Bin
	foreign   core.Bin
}

func newFixture(t *testing.T, opts ...memstore.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(opts...),
		org:   uuid.New(),
		each:  uuid.New(),
		box:   uuid.New(),
		crate: uuid.New(),
		w1:    uuid.New(),
		w2:    uuid.New(),
	}
	f.store.AddUnit(core.UnitOfMeasure{ID: f.each, OrganizationID: f.org, Abbreviation: "EA"})
	f.store.AddUnit(core.UnitOfMeasure{ID: f.box, OrganizationID: f.org, Abbreviation: "BOX"})
	f.store.AddUnit(core.UnitOfMeasure{ID: f.crate, OrganizationID: f.org, Abbreviation: "CRATE"})

	f.widget = core.Variant{ID: uuid.New(), OrganizationID: f.org, SKU: "WIDG-STD", BaseUOMID: f.each}
	f.store.AddVariant(f.widget)

	f.a1 = core.Bin{ID: uuid.New(), WarehouseID: f.w1, OrganizationID: f.org, Code: "A1"}
	f.a2 = core.Bin{ID: uuid.New(), WarehouseID: f.w1, OrganizationID: f.org, Code: "A2"}
	f.b1 = core.Bin{ID: uuid.New(), WarehouseID: f.w2, OrganizationID: f.org, Code: "B1"}
	f.foreign = core.Bin{ID: uuid.New(), WarehouseID: uuid.New(), OrganizationID: uuid.New(), Code: "X1"}
	for _, b := range []core.Bin{f.a1, f.a2, f.b1, f.foreign} {
		f.store.AddBin(b)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := core.NewUoMRegistry(f.store, nil, log)
	require.NoError(t, registry.UpsertConversion(context.Background(), core.UOMConversion{
		OrganizationID: f.org, FromUOMID: f.box, ToUOMID: f.each, Factor: decimal.NewFromInt(12),
	}))
	f.svc = core.NewInventoryService(f.store, registry, core.WithLogger(log))
	f.query = core.NewQueryService(f.store)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func src(typ string) core.SourceRef {
	return core.SourceRef{Type: typ, ID: uuid.NewString()}
}

func (f *fixture) receive(t *testing.T, bin core.Bin, qty string) {
	t.Helper()
	_, err := f.svc.PostReceipt(context.Background(), core.ReceiptLine{
		Source: src("GoodsReceiptLine"), VariantID: f.widget.ID, BinID: bin.ID, Qty: dec(qty),
	})
	require.NoError(t, err)
}

func (f *fixture) level(t *testing.T, bin core.Bin) core.InventoryLevel {
	t.Helper()
	lvl, err := f.query.GetLevel(context.Background(), f.widget.ID, bin.ID)
	require.NoError(t, err)
	return lvl
}

func (f *fixture) ledger(t *testing.T) []core.InventoryTransaction {
	t.Helper()
	txns, err := f.store.ListTransactions(context.Background(), core.TransactionFilter{})
	require.NoError(t, err)
	return txns
}

func requireQty(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

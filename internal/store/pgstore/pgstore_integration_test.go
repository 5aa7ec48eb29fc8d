package pgstore_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/db"
	"inventory-ledger/internal/store/pgstore"
)

type seed struct {
	org, each, box uuid.UUID
	warehouse      uuid.UUID
	a1, a2         uuid.UUID
	widget         uuid.UUID
}

func setupTestDB(t *testing.T) (*pgxpool.Pool, seed) {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	// Use a dedicated TEST database; the tables are truncated.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dbURL, 20)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	s := seed{
		org: uuid.New(), each: uuid.New(), box: uuid.New(), warehouse: uuid.New(),
		a1: uuid.New(), a2: uuid.New(), widget: uuid.New(),
	}
	product := uuid.New()
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE inventory_transactions, inventory_levels, reservations, posted_sources, feed_cursors,
			variants, products, bins, warehouses, uom_conversions, units_of_measure, organizations CASCADE
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO organizations (id, name) VALUES ($1, 'Test Org')
	`, s.org)
	if err != nil {
		t.Fatalf("Failed to seed organization: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO units_of_measure (id, organization_id, abbreviation) VALUES ($2, $1, 'EA'), ($3, $1, 'BOX')
	`, s.org, s.each, s.box)
	if err != nil {
		t.Fatalf("Failed to seed units: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO warehouses (id, organization_id, code) VALUES ($1, $2, 'MAIN')
	`, s.warehouse, s.org)
	if err != nil {
		t.Fatalf("Failed to seed warehouse: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO bins (id, warehouse_id, code) VALUES ($1, $3, 'A1'), ($2, $3, 'A2')
	`, s.a1, s.a2, s.warehouse)
	if err != nil {
		t.Fatalf("Failed to seed bins: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO products (id, organization_id, name) VALUES ($1, $2, 'Widget')
	`, product, s.org)
	if err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO variants (id, product_id, organization_id, sku, base_uom_id) VALUES ($1, $2, $3, 'WIDG-STD', $4)
	`, s.widget, product, s.org, s.each)
	if err != nil {
		t.Fatalf("Failed to seed variant: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO uom_conversions (organization_id, from_uom_id, to_uom_id, factor) VALUES ($1, $2, $3, 12)
	`, s.org, s.box, s.each)
	if err != nil {
		t.Fatalf("Failed to seed conversion: %v", err)
	}
	return pool, s
}

func newServices(pool *pgxpool.Pool, lockTimeout time.Duration) (*pgstore.Store, core.InventoryService) {
	store := pgstore.New(pool, lockTimeout)
	registry := core.NewUoMRegistry(store, nil, nil)
	return store, core.NewInventoryService(store, registry)
}

func onHand(t *testing.T, store *pgstore.Store, variant, bin uuid.UUID) decimal.Decimal {
	t.Helper()
	lvl, _, err := store.GetLevel(context.Background(), core.LevelKey{VariantID: variant, BinID: bin})
	if err != nil {
		t.Fatalf("GetLevel failed: %v", err)
	}
	return lvl.OnHand
}

func TestPgStore_ReceiveShipScenario(t *testing.T) {
	pool, s := setupTestDB(t)
	store, svc := newServices(pool, 2*time.Second)
	ctx := context.Background()

	_, err := svc.PostReceipt(ctx, core.ReceiptLine{
		Source: core.SourceRef{Type: "GoodsReceiptLine", ID: uuid.NewString()},
		VariantID: s.widget, BinID: s.a1, Qty: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("PostReceipt failed: %v", err)
	}
	_, err = svc.PostShipment(ctx, core.ShipmentLine{
		Source: core.SourceRef{Type: "ShipmentLine", ID: uuid.NewString()},
		VariantID: s.widget, BinID: s.a1, Qty: decimal.NewFromInt(3),
	})
	if err != nil {
		t.Fatalf("PostShipment failed: %v", err)
	}
	_, err = svc.PostShipment(ctx, core.ShipmentLine{
		Source: core.SourceRef{Type: "ShipmentLine", ID: uuid.NewString()},
		VariantID: s.widget, BinID: s.a1, Qty: decimal.NewFromInt(10),
	})
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if got := onHand(t, store, s.widget, s.a1); !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected on_hand 2, got %s", got)
	}
	txns, err := store.ListTransactions(ctx, core.TransactionFilter{VariantID: s.widget})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(txns))
	}
	if txns[0].Type != core.TxReceive || txns[1].Type != core.TxShip {
		t.Errorf("unexpected ledger types %s, %s", txns[0].Type, txns[1].Type)
	}
}

func TestPgStore_ReceiptInBoxesAndRepost(t *testing.T) {
	pool, s := setupTestDB(t)
	store, svc := newServices(pool, 2*time.Second)
	ctx := context.Background()

	line := core.ReceiptLine{
		Source:    core.SourceRef{Type: "GoodsReceiptLine", ID: uuid.NewString()},
		VariantID: s.widget, BinID: s.a1, UOMID: s.box, Qty: decimal.NewFromInt(2),
	}
	if _, err := svc.PostReceipt(ctx, line); err != nil {
		t.Fatalf("PostReceipt failed: %v", err)
	}
	if _, err := svc.PostReceipt(ctx, line); !errors.Is(err, core.ErrAlreadyPosted) {
		t.Fatalf("expected ErrAlreadyPosted on repost, got %v", err)
	}
	if got := onHand(t, store, s.widget, s.a1); !got.Equal(decimal.NewFromInt(24)) {
		t.Errorf("expected on_hand 24, got %s", got)
	}
}

func TestPgStore_ConcurrentReceiptsAndTransfers(t *testing.T) {
	pool, s := setupTestDB(t)
	store, svc := newServices(pool, 5*time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.PostReceipt(ctx, core.ReceiptLine{
				Source:    core.SourceRef{Type: "GoodsReceiptLine", ID: uuid.NewString()},
				VariantID: s.widget, BinID: s.a1, Qty: decimal.NewFromInt(2),
			})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := svc.PostReceipt(ctx, core.ReceiptLine{
				Source:    core.SourceRef{Type: "GoodsReceiptLine", ID: uuid.NewString()},
				VariantID: s.widget, BinID: s.a2, Qty: decimal.NewFromInt(2),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent receipt failed: %v", err)
		}
	}

	errs = make(chan error, 20)
	for i := 0; i < 20; i++ {
		from, to := s.a1, s.a2
		if i%2 == 1 {
			from, to = s.a2, s.a1
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PostTransfer(ctx, core.TransferLine{
				Source:    core.SourceRef{Type: "TransferLine", ID: uuid.NewString()},
				VariantID: s.widget, FromBinID: from, ToBinID: to, Qty: decimal.NewFromInt(1),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent transfer failed: %v", err)
		}
	}

	total := onHand(t, store, s.widget, s.a1).Add(onHand(t, store, s.widget, s.a2))
	if !total.Equal(decimal.NewFromInt(80)) {
		t.Errorf("expected 80 across both bins, got %s", total)
	}

	drift, err := core.NewAuditor(store).Audit(ctx)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if len(drift) != 0 {
		t.Errorf("expected no drift, got %+v", drift)
	}
}

func TestPgStore_LockTimeout(t *testing.T) {
	pool, s := setupTestDB(t)
	_, svc := newServices(pool, 200*time.Millisecond)
	ctx := context.Background()

	if _, err := svc.PostReceipt(ctx, core.ReceiptLine{
		Source:    core.SourceRef{Type: "GoodsReceiptLine", ID: uuid.NewString()},
		VariantID: s.widget, BinID: s.a1, Qty: decimal.NewFromInt(5),
	}); err != nil {
		t.Fatalf("PostReceipt failed: %v", err)
	}

	holder, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer holder.Rollback(ctx)
	if _, err := holder.Exec(ctx,
		"SELECT 1 FROM inventory_levels WHERE variant_id = $1 AND bin_id = $2 FOR UPDATE", s.widget, s.a1); err != nil {
		t.Fatalf("failed to hold level lock: %v", err)
	}

	_, err = svc.PostShipment(ctx, core.ShipmentLine{
		Source:    core.SourceRef{Type: "ShipmentLine", ID: uuid.NewString()},
		VariantID: s.widget, BinID: s.a1, Qty: decimal.NewFromInt(1),
	})
	if !errors.Is(err, core.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if !core.IsRetriable(err) {
		t.Errorf("expected lock timeout to be retriable")
	}
}

func TestPgStore_FeedCursor(t *testing.T) {
	pool, _ := setupTestDB(t)
	store := pgstore.New(pool, time.Second)
	ctx := context.Background()

	seq, err := store.FeedCursor(ctx, "kafka")
	if err != nil || seq != 0 {
		t.Fatalf("expected empty cursor, got %d, %v", seq, err)
	}
	if err := store.SaveFeedCursor(ctx, "kafka", 42); err != nil {
		t.Fatalf("SaveFeedCursor failed: %v", err)
	}
	if seq, _ := store.FeedCursor(ctx, "kafka"); seq != 42 {
		t.Errorf("expected cursor 42, got %d", seq)
	}
}

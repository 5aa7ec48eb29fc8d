package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/store/memstore"
)

func TestConcurrentReceiptsAreNotLost(t *testing.T) {
	f := newFixture(t)
	const n = 64

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := f.svc.PostReceipt(context.Background(), core.ReceiptLine{
				Source: src("GoodsReceiptLine"), VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("1"),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	requireQty(t, "64", f.level(t, f.a1).OnHand)
	txns := f.ledger(t)
	require.Len(t, txns, n)
	for i := 1; i < len(txns); i++ {
		assert.Less(t, txns[i-1].Seq, txns[i].Seq)
	}
}

func TestConcurrentShipmentsNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.receive(t, f.a1, "10")

	var g errgroup.Group
	results := make(chan error, 25)
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			_, err := f.svc.PostShipment(context.Background(), core.ShipmentLine{
				Source: src("ShipmentLine"), VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("1"),
			})
			results <- err
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(results)

	var ok, short int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, core.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 15, short)
	requireQty(t, "0", f.level(t, f.a1).OnHand)
}

func TestOpposingTransfersDoNotDeadlock(t *testing.T) {
	f := newFixture(t, memstore.WithLockTimeout(2*time.Second))
	f.receive(t, f.a1, "100")
	f.receive(t, f.a2, "100")

	var g errgroup.Group
	for i := 0; i < 40; i++ {
		from, to := f.a1, f.a2
		if i%2 == 1 {
			from, to = f.a2, f.a1
		}
		g.Go(func() error {
			_, err := f.svc.PostTransfer(context.Background(), core.TransferLine{
				Source: src("TransferLine"), VariantID: f.widget.ID, FromBinID: from.ID, ToBinID: to.ID, Qty: dec("1"),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	total := f.level(t, f.a1).OnHand.Add(f.level(t, f.a2).OnHand)
	requireQty(t, "200", total)
}

func TestLockTimeoutIsRetriable(t *testing.T) {
	f := newFixture(t, memstore.WithLockTimeout(20*time.Millisecond))
	f.receive(t, f.a1, "5")

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = f.store.WithinTx(context.Background(), func(tx core.LedgerTx) error {
			_, err := tx.LockLevels(context.Background(), []core.LevelRef{{
				Key: core.LevelKey{VariantID: f.widget.ID, BinID: f.a1.ID}, WarehouseID: f.w1,
			}})
			close(held)
			<-done
			return err
		})
	}()
	<-held

	line := core.ShipmentLine{Source: src("ShipmentLine"), VariantID: f.widget.ID, BinID: f.a1.ID, Qty: dec("1")}
	_, err := f.svc.PostShipment(context.Background(), line)
	close(done)
	require.ErrorIs(t, err, core.ErrLockTimeout)
	assert.True(t, core.IsRetriable(err))

	require.Eventually(t, func() bool {
		_, err := f.svc.PostShipment(context.Background(), line)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	requireQty(t, "4", f.level(t, f.a1).OnHand)
}

package core_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-ledger/internal/core"
)

func TestReplayFoldsLedgerInSeqOrder(t *testing.T) {
	variant, a, b := uuid.New(), uuid.New(), uuid.New()
	entry := func(seq int64, typ core.TransactionType, qty string, from, to *uuid.UUID) core.InventoryTransaction {
		return core.InventoryTransaction{Seq: seq, VariantID: variant, Type: typ, Qty: dec(qty), BinFromID: from, BinToID: to}
	}
	txns := []core.InventoryTransaction{
		entry(4, core.TxShip, "5", &a, nil),
		entry(1, core.TxReceive, "10", nil, &a),
		entry(2, core.TxTransfer, "3", &a, &b),
		entry(3, core.TxReserve, "2", &a, nil),
		entry(5, core.TxCount, "1", nil, &b),
		entry(6, core.TxPick, "1", &b, nil),
	}

	got, err := core.Replay(txns)
	require.NoError(t, err)

	ka := core.LevelKey{VariantID: variant, BinID: a}
	kb := core.LevelKey{VariantID: variant, BinID: b}
	requireQty(t, "2", got[ka].OnHand)
	requireQty(t, "0", got[ka].Allocated)
	requireQty(t, "4", got[kb].OnHand)
}

func TestReplayerRejectsOutOfOrderEntries(t *testing.T) {
	r := core.NewReplayer()
	bin := uuid.New()
	require.NoError(t, r.Apply(core.InventoryTransaction{Seq: 2, Type: core.TxReceive, Qty: dec("1"), BinToID: &bin}))
	assert.Error(t, r.Apply(core.InventoryTransaction{Seq: 1, Type: core.TxReceive, Qty: dec("1"), BinToID: &bin}))
	assert.Equal(t, int64(2), r.LastSeq())
}

func TestAuditMatchesEngineAndFindsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.a1, "10")
	_, err := f.svc.PostTransfer(ctx, core.TransferLine{
		Source: src("TransferLine"), VariantID: f.widget.ID, FromBinID: f.a1.ID, ToBinID: f.a2.ID, Qty: dec("4"),
	})
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, core.ReserveRequest{SOLineID: uuid.New(), VariantID: f.widget.ID, BinID: f.a2.ID, Qty: dec("3")})
	require.NoError(t, err)
	_, err = f.svc.PostShipment(ctx, core.ShipmentLine{
		Source: src("ShipmentLine"), VariantID: f.widget.ID, BinID: f.a2.ID, Qty: dec("1"),
	})
	require.NoError(t, err)
	_, err = f.svc.PostCountReconciliation(ctx, core.StockCount{
		ID: uuid.New(), WarehouseID: f.w1,
		Lines: []core.CountLine{{VariantID: f.widget.ID, BinID: f.a1.ID, CountedQty: dec("5")}},
	})
	require.NoError(t, err)

	auditor := core.NewAuditor(f.store)
	drift, err := auditor.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)

	// Tamper with a level outside the engine.
	err = f.store.WithinTx(ctx, func(tx core.LedgerTx) error {
		ref := core.LevelRef{Key: core.LevelKey{VariantID: f.widget.ID, BinID: f.a1.ID}, WarehouseID: f.w1}
		levels, err := tx.LockLevels(ctx, []core.LevelRef{ref})
		if err != nil {
			return err
		}
		lvl := levels[ref.Key]
		lvl.OnHand = lvl.OnHand.Add(dec("1"))
		return tx.SaveLevel(ctx, lvl)
	})
	require.NoError(t, err)

	drift, err = auditor.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, f.a1.ID, drift[0].Key.BinID)
	requireQty(t, "6", drift[0].Stored.OnHand)
	requireQty(t, "5", drift[0].Replayed.OnHand)
}

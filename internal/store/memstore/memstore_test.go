package memstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/store/memstore"
)

func levelRef() core.LevelRef {
	return core.LevelRef{Key: core.LevelKey{VariantID: uuid.New(), BinID: uuid.New()}, WarehouseID: uuid.New()}
}

func TestLockTimeout(t *testing.T) {
	s := memstore.New(memstore.WithLockTimeout(20 * time.Millisecond))
	ref := levelRef()
	ctx := context.Background()

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinTx(ctx, func(tx core.LedgerTx) error {
			if _, err := tx.LockLevels(ctx, []core.LevelRef{ref}); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked

	err := s.WithinTx(ctx, func(tx core.LedgerTx) error {
		_, err := tx.LockLevels(ctx, []core.LevelRef{ref})
		return err
	})
	close(done)
	assert.True(t, errors.Is(err, core.ErrLockTimeout), "got %v", err)

	// the lock is free again once the holder commits
	require.Eventually(t, func() bool {
		return s.WithinTx(ctx, func(tx core.LedgerTx) error {
			_, err := tx.LockLevels(ctx, []core.LevelRef{ref})
			return err
		}) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestRollbackDiscardsWritesAndClaims(t *testing.T) {
	s := memstore.New()
	ref := levelRef()
	src := core.SourceRef{Type: "GoodsReceiptLine", ID: "gr-1"}
	ctx := context.Background()
	boom := errors.New("boom")

	post := func(fail bool) error {
		return s.WithinTx(ctx, func(tx core.LedgerTx) error {
			if err := tx.ClaimSource(ctx, src); err != nil {
				return err
			}
			levels, err := tx.LockLevels(ctx, []core.LevelRef{ref})
			if err != nil {
				return err
			}
			l := levels[ref.Key]
			l.OnHand = l.OnHand.Add(decimal.NewFromInt(4))
			if err := tx.SaveLevel(ctx, l); err != nil {
				return err
			}
			if err := tx.AppendTransaction(ctx, &core.InventoryTransaction{VariantID: ref.Key.VariantID, Type: core.TxReceive}); err != nil {
				return err
			}
			if fail {
				return boom
			}
			return nil
		})
	}

	require.ErrorIs(t, post(true), boom)
	_, ok, err := s.GetLevel(ctx, ref.Key)
	require.NoError(t, err)
	assert.False(t, ok)
	txns, err := s.ListTransactions(ctx, core.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txns)

	require.NoError(t, post(false), "a rolled back claim can be taken again")
	l, ok, err := s.GetLevel(ctx, ref.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, l.OnHand.Equal(decimal.NewFromInt(4)))

	assert.True(t, errors.Is(post(false), core.ErrAlreadyPosted))
}

func TestListTransactionsPagesBySeq(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	variant := uuid.New()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.WithinTx(ctx, func(tx core.LedgerTx) error {
			return tx.AppendTransaction(ctx, &core.InventoryTransaction{VariantID: variant, Type: core.TxReceive})
		}))
	}

	first, err := s.ListTransactions(ctx, core.TransactionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), first[0].Seq)

	rest, err := s.ListTransactions(ctx, core.TransactionFilter{AfterSeq: first[1].Seq})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, int64(3), rest[0].Seq)
}

func TestFeedCursor(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	seq, err := s.FeedCursor(ctx, "kafka")
	require.NoError(t, err)
	assert.Zero(t, seq)
	require.NoError(t, s.SaveFeedCursor(ctx, "kafka", 42))
	seq, err = s.FeedCursor(ctx, "kafka")
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
}

func TestContextDeadlineWhileWaitingIsLockTimeout(t *testing.T) {
	s := memstore.New(memstore.WithLockTimeout(time.Minute))
	ref := levelRef()
	ctx := context.Background()

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinTx(ctx, func(tx core.LedgerTx) error {
			if _, err := tx.LockLevels(ctx, []core.LevelRef{ref}); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked
	defer close(done)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.WithinTx(short, func(tx core.LedgerTx) error {
		_, err := tx.LockLevels(short, []core.LevelRef{ref})
		return err
	})
	assert.True(t, errors.Is(err, core.ErrLockTimeout), "got %v", err)
}

// claimAndHold claims src in a transaction that stays open until the returned
// func is called with the transaction's result.
func claimAndHold(t *testing.T, s *memstore.Store, src core.SourceRef) (finish func(error), result <-chan error) {
	t.Helper()
	ctx := context.Background()
	claimed := make(chan struct{})
	outcome := make(chan error, 1)
	res := make(chan error, 1)
	go func() {
		res <- s.WithinTx(ctx, func(tx core.LedgerTx) error {
			if err := tx.ClaimSource(ctx, src); err != nil {
				close(claimed)
				return err
			}
			close(claimed)
			return <-outcome
		})
	}()
	<-claimed
	return func(err error) { outcome <- err }, res
}

func TestClaimWaitsForRolledBackOwner(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	src := core.SourceRef{Type: "GoodsReceiptLine", ID: "gr-1"}
	boom := errors.New("first attempt fails after claiming")

	finish, first := claimAndHold(t, s, src)

	var wg sync.WaitGroup
	var second error
	wg.Add(1)
	go func() {
		defer wg.Done()
		second = s.WithinTx(ctx, func(tx core.LedgerTx) error {
			return tx.ClaimSource(ctx, src)
		})
	}()

	time.Sleep(20 * time.Millisecond)
	finish(boom)
	require.ErrorIs(t, <-first, boom)
	wg.Wait()
	require.NoError(t, second, "the claim is free once its owner rolls back")

	err := s.WithinTx(ctx, func(tx core.LedgerTx) error { return tx.ClaimSource(ctx, src) })
	assert.True(t, errors.Is(err, core.ErrAlreadyPosted), "got %v", err)
}

func TestClaimWaitsForCommittedOwner(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	src := core.SourceRef{Type: "GoodsReceiptLine", ID: "gr-2"}

	finish, first := claimAndHold(t, s, src)

	second := make(chan error, 1)
	go func() {
		second <- s.WithinTx(ctx, func(tx core.LedgerTx) error { return tx.ClaimSource(ctx, src) })
	}()

	time.Sleep(20 * time.Millisecond)
	finish(nil)
	require.NoError(t, <-first)
	assert.True(t, errors.Is(<-second, core.ErrAlreadyPosted))
}

func TestClaimWaitIsBoundedByLockTimeout(t *testing.T) {
	s := memstore.New(memstore.WithLockTimeout(20 * time.Millisecond))
	ctx := context.Background()
	src := core.SourceRef{Type: "GoodsReceiptLine", ID: "gr-3"}

	finish, first := claimAndHold(t, s, src)
	defer func() {
		finish(nil)
		<-first
	}()

	err := s.WithinTx(ctx, func(tx core.LedgerTx) error { return tx.ClaimSource(ctx, src) })
	assert.True(t, errors.Is(err, core.ErrLockTimeout), "got %v", err)
}

func TestClaimTwiceInOneTransaction(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	src := core.SourceRef{Type: "StockCount", ID: "c-1"}
	err := s.WithinTx(ctx, func(tx core.LedgerTx) error {
		require.NoError(t, tx.ClaimSource(ctx, src))
		return tx.ClaimSource(ctx, src)
	})
	assert.True(t, errors.Is(err, core.ErrAlreadyPosted), "got %v", err)
}

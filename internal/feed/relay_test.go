package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
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

type fakePublisher struct {
	mu    sync.Mutex
	sent  []Message
	fail  error
	calls int
}

func (p *fakePublisher) Publish(_ context.Context, msgs []Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail != nil {
		return p.fail
	}
	p.sent = append(p.sent, msgs...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type countingObserver struct {
	published int
	cursor    int64
	failures  int
}

func (o *countingObserver) ObservePublished(n int, cursor int64) {
	o.published += n
	o.cursor = cursor
}

func (o *countingObserver) ObserveFeedFailure() { o.failures++ }

type feedFixture struct {
	store   *memstore.Store
	svc     core.InventoryService
	variant core.Variant
	bin     core.Bin
	clock   time.Time
}

func newFeedFixture(t *testing.T) *feedFixture {
	t.Helper()
	f := &feedFixture{clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.store = memstore.New(memstore.WithClock(func() time.Time { return f.clock }))

	org, each := uuid.New(), uuid.New()
	f.store.AddUnit(core.UnitOfMeasure{ID: each, OrganizationID: org, Abbreviation: "EA"})
	f.variant = core.Variant{ID: uuid.New(), OrganizationID: org, SKU: "WIDG-STD", BaseUOMID: each}
	f.store.AddVariant(f.variant)
	f.bin = core.Bin{ID: uuid.New(), WarehouseID: uuid.New(), OrganizationID: org, Code: "A1"}
	f.store.AddBin(f.bin)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = core.NewInventoryService(f.store, core.NewUoMRegistry(f.store, nil, log),
		core.WithLogger(log), core.WithClock(func() time.Time { return f.clock }))
	return f
}

func (f *feedFixture) receive(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.svc.PostReceipt(context.Background(), core.ReceiptLine{
			Source:    core.SourceRef{Type: "GoodsReceiptLine", ID: uuid.NewString()},
			VariantID: f.variant.ID, BinID: f.bin.ID, Qty: decimal.NewFromInt(1),
		})
		require.NoError(t, err)
	}
}

func (f *feedFixture) relay(pub Publisher, obs Observer, cfg Config) *Relay {
	r := NewRelay(f.store, pub, obs, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	r.now = func() time.Time { return f.clock }
	return r
}

func TestStepPublishesInSeqOrderAndAdvancesCursor(t *testing.T) {
	f := newFeedFixture(t)
	f.receive(t, 3)
	f.clock = f.clock.Add(time.Minute)

	pub := &fakePublisher{}
	obs := &countingObserver{}
	r := f.relay(pub, obs, Config{Batch: 2})

	n, err := r.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = r.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Len(t, pub.sent, 3)
	for i, m := range pub.sent {
		assert.Equal(t, f.variant.ID.String(), string(m.Key))
		var txn core.InventoryTransaction
		require.NoError(t, json.Unmarshal(m.Value, &txn))
		assert.Equal(t, int64(i+1), txn.Seq)
		assert.Equal(t, core.TxReceive, txn.Type)
	}

	cursor, err := f.store.FeedCursor(context.Background(), CursorName)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)
	assert.Equal(t, 3, obs.published)
	assert.Equal(t, int64(3), obs.cursor)
}

func TestStepHoldsBackUnsettledRows(t *testing.T) {
	f := newFeedFixture(t)
	f.receive(t, 1)
	f.clock = f.clock.Add(10 * time.Second)
	f.receive(t, 1)

	pub := &fakePublisher{}
	r := f.relay(pub, nil, Config{Settle: 5 * time.Second})

	n, err := r.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "second row is younger than the settle window")

	f.clock = f.clock.Add(10 * time.Second)
	n, err = r.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.sent, 2)
}

func TestStepKeepsCursorOnPublishFailure(t *testing.T) {
	f := newFeedFixture(t)
	f.receive(t, 2)

	pub := &fakePublisher{fail: errors.New("broker down")}
	r := f.relay(pub, nil, Config{})

	_, err := r.Step(context.Background())
	require.Error(t, err)

	cursor, err := f.store.FeedCursor(context.Background(), CursorName)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)

	// redelivery after recovery starts from the first row again
	pub.fail = nil
	n, err := r.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFeedFixture(t)
	f.receive(t, 4)

	pub := &fakePublisher{}
	obs := &countingObserver{}
	r := f.relay(pub, obs, Config{Interval: 10 * time.Millisecond, Batch: 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.sent) == 4
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

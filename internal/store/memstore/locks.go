package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"inventory-ledger/internal/core"
)

const shardCount = 32

// lockTable hands out one exclusive lock per level key. Each lock is a
// buffered channel of capacity one so acquisition can be bounded by a timer.
type lockTable struct {
	shards [shardCount]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[core.LevelKey]chan struct{}
}

func newLockTable() *lockTable {
	lt := &lockTable{}
	for i := range lt.shards {
		lt.shards[i].locks = make(map[core.LevelKey]chan struct{})
	}
	return lt
}

func (lt *lockTable) slot(key core.LevelKey) chan struct{} {
	sh := &lt.shards[int(key.BinID[15]^key.VariantID[15])%shardCount]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	ch, ok := sh.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		sh.locks[key] = ch
	}
	return ch
}

func (lt *lockTable) acquire(ctx context.Context, key core.LevelKey, timeout time.Duration) error {
	ch := lt.slot(key)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return core.ErrLockTimeout
	case <-ctx.Done():
		return lockWaitErr(ctx)
	}
}

// lockWaitErr reports a wait cut short by ctx. A deadline counts as a lock
// timeout so callers retry it like one.
func lockWaitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", core.ErrLockTimeout, ctx.Err())
	}
	return ctx.Err()
}

func (lt *lockTable) release(key core.LevelKey) {
	<-lt.slot(key)
}

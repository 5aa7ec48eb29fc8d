// Package memstore is an in-process LedgerStore. Level rows are guarded by
// per-key locks with a bounded wait; writes made inside WithinTx are buffered
// and applied together on success.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"inventory-ledger/internal/core"
)

type conversionKey struct {
	org, from, to uuid.UUID
}

type Store struct {
	mu           sync.RWMutex
	variants     map[uuid.UUID]core.Variant
	bins         map[uuid.UUID]core.Bin
	units        map[uuid.UUID]core.UnitOfMeasure
	conversions  map[conversionKey]core.UOMConversion
	levels       map[core.LevelKey]core.InventoryLevel
	txns         []core.InventoryTransaction
	seq          int64
	claims       map[core.SourceRef]*claim
	reservations map[uuid.UUID]core.Reservation
	cursors      map[string]int64

	locks       *lockTable
	lockTimeout time.Duration
	now         func() time.Time
}

type Option func(*Store)

// WithLockTimeout bounds how long a posting waits for a level lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		variants:     make(map[uuid.UUID]core.Variant),
		bins:         make(map[uuid.UUID]core.Bin),
		units:        make(map[uuid.UUID]core.UnitOfMeasure),
		conversions:  make(map[conversionKey]core.UOMConversion),
		levels:       make(map[core.LevelKey]core.InventoryLevel),
		claims:       make(map[core.SourceRef]*claim),
		reservations: make(map[uuid.UUID]core.Reservation),
		cursors:      make(map[string]int64),
		locks:        newLockTable(),
		lockTimeout:  5 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ── Master data ──────────────────────────────────────────────────────────────

func (s *Store) AddVariant(v core.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

func (s *Store) AddBin(b core.Bin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bins[b.ID] = b
}

func (s *Store) AddUnit(u core.UnitOfMeasure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[u.ID] = u
}

// SetLevelPolicy sets safety stock and reorder point on a level, creating it if needed.
func (s *Store) SetLevelPolicy(ref core.LevelRef, safety, reorder decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl, ok := s.levels[ref.Key]
	if !ok {
		lvl = core.NewLevel(ref)
	}
	lvl.SafetyStock = safety
	lvl.ReorderPoint = reorder
	s.levels[ref.Key] = lvl
}

func (s *Store) Variant(_ context.Context, id uuid.UUID) (core.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	if !ok {
		return core.Variant{}, core.ErrNotFound
	}
	return v, nil
}

func (s *Store) Bin(_ context.Context, id uuid.UUID) (core.Bin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bins[id]
	if !ok {
		return core.Bin{}, core.ErrNotFound
	}
	return b, nil
}

func (s *Store) UnitOfMeasure(_ context.Context, id uuid.UUID) (core.UnitOfMeasure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return core.UnitOfMeasure{}, core.ErrNotFound
	}
	return u, nil
}

func (s *Store) Conversion(_ context.Context, orgID, fromUOM, toUOM uuid.UUID) (core.UOMConversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversions[conversionKey{orgID, fromUOM, toUOM}]
	if !ok {
		return core.UOMConversion{}, core.ErrConversionNotFound
	}
	return c, nil
}

func (s *Store) UpsertConversion(_ context.Context, c core.UOMConversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversions[conversionKey{c.OrganizationID, c.FromUOMID, c.ToUOMID}] = c
	return nil
}

// ── Reads ────────────────────────────────────────────────────────────────────

func (s *Store) GetLevel(_ context.Context, key core.LevelKey) (core.InventoryLevel, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.levels[key]
	return l, ok, nil
}

func (s *Store) ListLevels(_ context.Context, f core.LevelFilter) ([]core.InventoryLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.InventoryLevel
	for _, l := range s.levels {
		if !f.MatchLevel(l) {
			continue
		}
		if f.OrganizationID != uuid.Nil && s.variants[l.VariantID].OrganizationID != f.OrganizationID {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return page(out, f.Offset, f.Limit), nil
}

func (s *Store) ListTransactions(_ context.Context, f core.TransactionFilter) ([]core.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := sort.Search(len(s.txns), func(i int) bool { return s.txns[i].Seq > f.AfterSeq })
	var out []core.InventoryTransaction
	for _, t := range s.txns[start:] {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		if f.MatchTransaction(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GetReservation(_ context.Context, id uuid.UUID) (core.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return core.Reservation{}, core.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListReservations(_ context.Context, f core.ReservationFilter) ([]core.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Reservation
	for _, r := range s.reservations {
		if f.MatchReservation(r) {
			out = append(out, r)
		}
	}
	sortReservations(out)
	return page(out, 0, f.Limit), nil
}

func (s *Store) FeedCursor(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[name], nil
}

func (s *Store) SaveFeedCursor(_ context.Context, name string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = seq
	return nil
}

// ── Transactions ─────────────────────────────────────────────────────────────

func (s *Store) WithinTx(ctx context.Context, fn func(tx core.LedgerTx) error) error {
	tx := &memTx{
		store:        s,
		levels:       make(map[core.LevelKey]*core.InventoryLevel),
		dirty:        make(map[core.LevelKey]struct{}),
		reservations: make(map[uuid.UUID]core.Reservation),
	}
	defer tx.unlockAll()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	store        *Store
	held         []core.LevelKey
	levels       map[core.LevelKey]*core.InventoryLevel
	dirty        map[core.LevelKey]struct{}
	txns         []core.InventoryTransaction
	claims       []core.SourceRef
	reservations map[uuid.UUID]core.Reservation
}

// claim is a source taken by a transaction. done closes when that transaction
// commits or rolls back.
type claim struct {
	done      chan struct{}
	committed bool
}

// ClaimSource behaves like a unique insert: a source claimed by a transaction
// still in flight blocks the caller until that transaction ends, bounded by the
// lock timeout.
func (tx *memTx) ClaimSource(ctx context.Context, src core.SourceRef) error {
	s := tx.store
	var timeout <-chan time.Time
	for {
		s.mu.Lock()
		c, ok := s.claims[src]
		if !ok {
			s.claims[src] = &claim{done: make(chan struct{})}
			s.mu.Unlock()
			tx.claims = append(tx.claims, src)
			return nil
		}
		committed := c.committed
		s.mu.Unlock()
		if committed || slices.Contains(tx.claims, src) {
			return core.ErrAlreadyPosted
		}

		if timeout == nil {
			timer := time.NewTimer(s.lockTimeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-c.done:
		case <-timeout:
			return core.ErrLockTimeout
		case <-ctx.Done():
			return lockWaitErr(ctx)
		}
	}
}

func (tx *memTx) LockLevels(ctx context.Context, refs []core.LevelRef) (map[core.LevelKey]*core.InventoryLevel, error) {
	out := make(map[core.LevelKey]*core.InventoryLevel, len(refs))
	for _, ref := range core.LockOrder(refs) {
		if l, ok := tx.levels[ref.Key]; ok {
			out[ref.Key] = l
			continue
		}
		if err := tx.store.locks.acquire(ctx, ref.Key, tx.store.lockTimeout); err != nil {
			return nil, err
		}
		tx.held = append(tx.held, ref.Key)

		tx.store.mu.RLock()
		lvl, ok := tx.store.levels[ref.Key]
		tx.store.mu.RUnlock()
		if !ok {
			lvl = core.NewLevel(ref)
		}
		tx.levels[ref.Key] = &lvl
		out[ref.Key] = &lvl
	}
	return out, nil
}

func (tx *memTx) SaveLevel(_ context.Context, level *core.InventoryLevel) error {
	key := level.Key()
	cur, ok := tx.levels[key]
	if !ok {
		return fmt.Errorf("level %s saved without holding its lock", key)
	}
	if cur != level {
		*cur = *level
	}
	tx.dirty[key] = struct{}{}
	return nil
}

func (tx *memTx) AppendTransaction(_ context.Context, t *core.InventoryTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s := tx.store
	s.mu.Lock()
	s.seq++
	t.Seq = s.seq
	s.mu.Unlock()
	t.RecordedAt = s.now().UTC()
	tx.txns = append(tx.txns, *t)
	return nil
}

func (tx *memTx) InsertReservation(_ context.Context, r *core.Reservation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	tx.reservations[r.ID] = *r
	return nil
}

func (tx *memTx) reservation(id uuid.UUID) (core.Reservation, bool) {
	if r, ok := tx.reservations[id]; ok {
		return r, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	r, ok := tx.store.reservations[id]
	return r, ok
}

func (tx *memTx) LockReservation(_ context.Context, id uuid.UUID) (core.Reservation, error) {
	r, ok := tx.reservation(id)
	if !ok {
		return core.Reservation{}, core.ErrNotFound
	}
	if _, held := tx.levels[r.Key()]; !held {
		return core.Reservation{}, fmt.Errorf("reservation %s locked without its level", id)
	}
	return r, nil
}

func (tx *memTx) UpdateReservation(_ context.Context, r core.Reservation) error {
	if _, ok := tx.reservation(r.ID); !ok {
		return core.ErrNotFound
	}
	tx.reservations[r.ID] = r
	return nil
}

func (tx *memTx) ActiveReservations(_ context.Context, soLineID uuid.UUID, key core.LevelKey) ([]core.Reservation, error) {
	merged := make(map[uuid.UUID]core.Reservation)
	tx.store.mu.RLock()
	for id, r := range tx.store.reservations {
		if (soLineID == uuid.Nil || r.SOLineID == soLineID) && r.Key() == key {
			merged[id] = r
		}
	}
	tx.store.mu.RUnlock()
	for id, r := range tx.reservations {
		if (soLineID == uuid.Nil || r.SOLineID == soLineID) && r.Key() == key {
			merged[id] = r
		}
	}
	var out []core.Reservation
	for _, r := range merged {
		if r.Status == core.ReservationActive {
			out = append(out, r)
		}
	}
	sortReservations(out)
	return out, nil
}

func (tx *memTx) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range tx.claims {
		c := s.claims[src]
		c.committed = true
		close(c.done)
	}
	for key := range tx.dirty {
		s.levels[key] = *tx.levels[key]
	}
	for id, r := range tx.reservations {
		s.reservations[id] = r
	}
	for _, t := range tx.txns {
		i := sort.Search(len(s.txns), func(i int) bool { return s.txns[i].Seq > t.Seq })
		s.txns = append(s.txns, core.InventoryTransaction{})
		copy(s.txns[i+1:], s.txns[i:])
		s.txns[i] = t
	}
}

func (tx *memTx) rollback() {
	if len(tx.claims) == 0 {
		return
	}
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range tx.claims {
		close(s.claims[src].done)
		delete(s.claims, src)
	}
}

func (tx *memTx) unlockAll() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.store.locks.release(tx.held[i])
	}
	tx.held = nil
}

func sortReservations(rs []core.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID.String() < rs[j].ID.String()
	})
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

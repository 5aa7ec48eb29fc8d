package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryService posts stock movements. Every operation validates its input
// and converts quantities before any row is locked, then applies level updates
// and ledger entries in one atomic unit.
type InventoryService interface {
	// PostReceipt adds stock to a bin (RECEIVE).
	PostReceipt(ctx context.Context, line ReceiptLine) (*InventoryTransaction, error)
	// PostShipment removes stock from a bin (SHIP) and lowers allocated by the
	// shipped quantity, floored at zero.
	PostShipment(ctx context.Context, line ShipmentLine) (*InventoryTransaction, error)
	// PostTransfer moves stock between two bins (TRANSFER).
	PostTransfer(ctx context.Context, line TransferLine) (*InventoryTransaction, error)
	// PostCountReconciliation sets each counted level to its counted quantity and
	// writes one COUNT entry per line whose delta is non-zero.
	PostCountReconciliation(ctx context.Context, count StockCount) ([]InventoryTransaction, error)
	// PostIssue removes stock for internal use (ISSUE).
	PostIssue(ctx context.Context, line IssueLine) (*InventoryTransaction, error)
	// PostAdjustment applies a signed correction (ADJUST).
	PostAdjustment(ctx context.Context, line AdjustmentLine) (*InventoryTransaction, error)
	// PostReturn books a customer return (RETURN_SO) or a return to supplier (RETURN_PO).
	PostReturn(ctx context.Context, line ReturnLine) (*InventoryTransaction, error)

	Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error)
	Release(ctx context.Context, reservationID uuid.UUID) (*Reservation, error)
	// ReleaseForSOLine releases every ACTIVE reservation of a sales-order line.
	ReleaseForSOLine(ctx context.Context, soLineID uuid.UUID) ([]Reservation, error)
}

// Source types written by the engine itself.
const (
	SourceStockCount = "StockCount"
	SourceSOLine     = "SOLine"
)

type Option func(*inventoryService)

func WithLogger(l *slog.Logger) Option {
	return func(s *inventoryService) { s.log = l }
}

func WithObserver(o Observer) Option {
	return func(s *inventoryService) { s.obs = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *inventoryService) { s.now = now }
}

type inventoryService struct {
	store LedgerStore
	uom   UoMRegistry
	log   *slog.Logger
	obs   Observer
	now   func() time.Time
}

func NewInventoryService(store LedgerStore, uom UoMRegistry, opts ...Option) InventoryService {
	s := &inventoryService{
		store: store,
		uom:   uom,
		log:   slog.Default(),
		obs:   nopObserver{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ── Movements ────────────────────────────────────────────────────────────────

func (s *inventoryService) PostReceipt(ctx context.Context, line ReceiptLine) (*InventoryTransaction, error) {
	const op = "post_receipt"
	var out InventoryTransaction
	err := s.instrument(ctx, op, line.Source, func() error {
		if err := requireSource(op, line.Source); err != nil {
			return err
		}
		v, qty, err := s.resolveQty(ctx, op, line.VariantID, line.UOMID, line.Qty)
		if err != nil {
			return err
		}
		bin, err := s.resolveBin(ctx, op, line.BinID, v)
		if err != nil {
			return err
		}
		return s.inTx(ctx, line.Source, func(tx LedgerTx) error {
			levels, err := tx.LockLevels(ctx, []LevelRef{refOf(v, bin)})
			if err != nil {
				return err
			}
			lvl := levels[keyOf(v, bin)]
			lvl.OnHand = lvl.OnHand.Add(qty)
			if err := s.saveLevel(ctx, tx, lvl); err != nil {
				return err
			}
			out = s.newTxn(v, TxReceive, qty, line.Source, line.OccurredAt, line.Note)
			toSide(&out, bin)
			out.BatchID = line.BatchID
			return tx.AppendTransaction(ctx, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *inventoryService) PostShipment(ctx context.Context, line ShipmentLine) (*InventoryTransaction, error) {
	const op = "post_shipment"
	var out InventoryTransaction
	err := s.instrument(ctx, op, line.Source, func() error {
		if err := requireSource(op, line.Source); err != nil {
			return err
		}
		v, qty, err := s.resolveQty(ctx, op, line.VariantID, line.UOMID, line.Qty)
		if err != nil {
			return err
		}
		bin, err := s.resolveBin(ctx, op, line.BinID, v)
		if err != nil {
			return err
		}
		return s.inTx(ctx, line.Source, func(tx LedgerTx) error {
			key := keyOf(v, bin)
			levels, err := tx.LockLevels(ctx, []LevelRef{refOf(v, bin)})
			if err != nil {
				return err
			}
			lvl := levels[key]
			if lvl.OnHand.LessThan(qty) {
				return insufficient(op, v, bin, lvl.OnHand, qty)
			}
			lvl.OnHand = lvl.OnHand.Sub(qty)
			lvl.Allocated = lvl.Allocated.Sub(decimal.Min(lvl.Allocated, qty))
			if line.SOLineID != nil {
				if err := s.consumeReservations(ctx, tx, *line.SOLineID, key, qty); err != nil {
					return err
				}
			}
			if err := s.saveLevel(ctx, tx, lvl); err != nil {
				return err
			}
			out = s.newTxn(v, TxShip, qty, line.Source, line.OccurredAt, line.Note)
			fromSide(&out, bin)
			out.BatchID = line.BatchID
			out.SerialID = line.SerialID
			return tx.AppendTransaction(ctx, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// consumeReservations marks the line's reservations in key CONSUMED, oldest
// first, up to qty. A reservation larger than what is left is reduced instead.
func (s *inventoryService) consumeReservations(ctx context.Context, tx LedgerTx, soLineID uuid.UUID, key LevelKey, qty decimal.Decimal) error {
	rs, err := tx.ActiveReservations(ctx, soLineID, key)
	if err != nil {
		return err
	}
	remaining := qty
	for _, r := range rs {
		if !remaining.IsPositive() {
			break
		}
		if r.Qty.LessThanOrEqual(remaining) {
			remaining = remaining.Sub(r.Qty)
			closed := s.now().UTC()
			r.Status = ReservationConsumed
			r.ClosedAt = &closed
		} else {
			r.Qty = r.Qty.Sub(remaining)
			remaining = decimal.Zero
		}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *inventoryService) PostTransfer(ctx context.Context, line TransferLine) (*InventoryTransaction, error) {
	const op = "post_transfer"
	var out InventoryTransaction
	err := s.instrument(ctx, op, line.Source, func() error {
		if err := requireSource(op, line.Source); err != nil {
			return err
		}
		if line.FromBinID == line.ToBinID {
			return newError(ErrValidation, op, "source and destination bin are the same")
		}
		v, qty, err := s.resolveQty(ctx, op, line.VariantID, line.UOMID, line.Qty)
		if err != nil {
			return err
		}
		from, err := s.resolveBin(ctx, op, line.FromBinID, v)
		if err != nil {
			return err
		}
		to, err := s.resolveBin(ctx, op, line.ToBinID, v)
		if err != nil {
			return err
		}
		return s.inTx(ctx, line.Source, func(tx LedgerTx) error {
			levels, err := tx.LockLevels(ctx, []LevelRef{refOf(v, from), refOf(v, to)})
			if err != nil {
				return err
			}
			src, dst := levels[keyOf(v, from)], levels[keyOf(v, to)]
			if src.OnHand.LessThan(qty) {
				return insufficient(op, v, from, src.OnHand, qty)
			}
			src.OnHand = src.OnHand.Sub(qty)
			dst.OnHand = dst.OnHand.Add(qty)
			if err := s.saveLevel(ctx, tx, src); err != nil {
				return err
			}
			if err := s.saveLevel(ctx, tx, dst); err != nil {
				return err
			}
			out = s.newTxn(v, TxTransfer, qty, line.Source, line.OccurredAt, line.Note)
			fromSide(&out, from)
			toSide(&out, to)
			out.BatchID = line.BatchID
			return tx.AppendTransaction(ctx, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *inventoryService) PostIssue(ctx context.Context, line IssueLine) (*InventoryTransaction, error) {
	const op = "post_issue"
	var out InventoryTransaction
	err := s.instrument(ctx, op, line.Source, func() error {
		if err := requireSource(op, line.Source); err != nil {
			return err
		}
		v, qty, err := s.resolveQty(ctx, op, line.VariantID, line.UOMID, line.Qty)
		if err != nil {
			return err
		}
		bin, err := s.resolveBin(ctx, op, line.BinID, v)
		if err != nil {
			return err
		}
		out, err = s.removeStock(ctx, op, TxIssue, v, bin, qty, line.Source, line.OccurredAt, line.Note)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *inventoryService) PostReturn(ctx context.Context, line ReturnLine) (*InventoryTransaction, error) {
	const op = "post_return"
	var out InventoryTransaction
	err := s.instrument(ctx, op, line.Source, func() error {
		if err := requireSource(op, line.Source); err != nil {
			return err
		}
		if line.Kind != ReturnFromCustomer && line.Kind != ReturnToSupplier {
			return newError(ErrValidation, op, "unknown return kind %q", line.Kind)
		}
		v, qty, err := s.resolveQty(ctx, op, line.VariantID, line.UOMID, line.Qty)
		if err != nil {
			return err
		}
		bin, err := s.resolveBin(ctx, op, line.BinID, v)
		if err != nil {
			return err
		}
		if line.Kind == ReturnToSupplier {
			out, err = s.removeStock(ctx, op, TxReturnPO, v, bin, qty, line.Source, line.OccurredAt, line.Note)
			return err
		}
		return s.inTx(ctx, line.Source, func(tx LedgerTx) error {
			levels, err := tx.LockLevels(ctx, []LevelRef{refOf(v, bin)})
			if err != nil {
				return err
			}
			lvl := levels[keyOf(v, bin)]
			lvl.OnHand = lvl.OnHand.Add(qty)
			if err := s.saveLevel(ctx, tx, lvl); err != nil {
				return err
			}
			out = s.newTxn(v, TxReturnSO, qty, line.Source, line.OccurredAt, line.Note)
			toSide(&out, bin)
			out.BatchID = line.BatchID
			return tx.AppendTransaction(ctx, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// removeStock takes unreserved stock out of a bin. Reserved units stay put
// until their reservation is shipped or released.
func (s *inventoryService) removeStock(ctx context.Context, op string, typ TransactionType, v Variant, bin Bin,
	qty decimal.Decimal, src SourceRef, occurred time.Time, note string) (InventoryTransaction, error) {

	var out InventoryTransaction
	err := s.inTx(ctx, src, func(tx LedgerTx) error {
		levels, err := tx.LockLevels(ctx, []LevelRef{refOf(v, bin)})
		if err != nil {
			return err
		}
		lvl := levels[keyOf(v, bin)]
		if lvl.OnHand.LessThan(qty) {
			return insufficient(op, v, bin, lvl.OnHand, qty)
		}
		if lvl.Available().LessThan(qty) {
			return newError(ErrInsufficientStock, op, "bin %s has %s of %s unreserved (%s reserved), requested %s",
				bin.Code, lvl.Available(), v.SKU, lvl.Allocated, qty)
		}
		lvl.OnHand = lvl.OnHand.Sub(qty)
		if err := s.saveLevel(ctx, tx, lvl); err != nil {
			return err
		}
		out = s.newTxn(v, typ, qty, src, occurred, note)
		fromSide(&out, bin)
		return tx.AppendTransaction(ctx, &out)
	})
	return out, err
}

func (s *inventoryService) PostAdjustment(ctx context.Context, line AdjustmentLine) (*InventoryTransaction, error) {
	const op = "post_adjustment"
	var out InventoryTransaction
	err := s.instrument(ctx, op, line.Source, func() error {
		if err := requireSource(op, line.Source); err != nil {
			return err
		}
		if line.Delta.IsZero() {
			return newError(ErrValidation, op, "adjustment delta must be non-zero")
		}
		v, mag, err := s.resolveQty(ctx, op, line.VariantID, line.UOMID, line.Delta.Abs())
		if err != nil {
			return err
		}
		bin, err := s.resolveBin(ctx, op, line.BinID, v)
		if err != nil {
			return err
		}
		return s.inTx(ctx, line.Source, func(tx LedgerTx) error {
			levels, err := tx.LockLevels(ctx, []LevelRef{refOf(v, bin)})
			if err != nil {
				return err
			}
			lvl := levels[keyOf(v, bin)]
			out = s.newTxn(v, TxAdjust, mag, line.Source, line.OccurredAt, line.Note)
			if line.Delta.IsPositive() {
				lvl.OnHand = lvl.OnHand.Add(mag)
				toSide(&out, bin)
			} else {
				if lvl.OnHand.LessThan(mag) && !line.AllowNegative {
					return insufficient(op, v, bin, lvl.OnHand, mag)
				}
				lvl.OnHand = lvl.OnHand.Sub(mag)
				fromSide(&out, bin)
			}
			if err := tx.AppendTransaction(ctx, &out); err != nil {
				return err
			}
			if err := s.trimAllocation(ctx, tx, v, bin, lvl, line.Source, line.OccurredAt); err != nil {
				return err
			}
			return s.saveLevel(ctx, tx, lvl)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Count reconciliation ─────────────────────────────────────────────────────

type countPlan struct {
	line    CountLine
	variant Variant
	bin     Bin
	counted decimal.Decimal
}

func (s *inventoryService) PostCountReconciliation(ctx context.Context, count StockCount) ([]InventoryTransaction, error) {
	const op = "post_count"
	src := SourceRef{Type: SourceStockCount, ID: count.ID.String()}
	var out []InventoryTransaction
	err := s.instrument(ctx, op, src, func() error {
		if count.ID == uuid.Nil {
			return newError(ErrValidation, op, "count id is required")
		}
		if count.WarehouseID == uuid.Nil {
			return newError(ErrValidation, op, "count warehouse is required")
		}
		if len(count.Lines) == 0 {
			return newError(ErrValidation, op, "count has no lines")
		}

		plans := make([]countPlan, 0, len(count.Lines))
		refs := make([]LevelRef, 0, len(count.Lines))
		seen := make(map[LevelKey]struct{}, len(count.Lines))
		var orgID uuid.UUID
		for _, cl := range count.Lines {
			if cl.CountedQty.IsNegative() {
				return newError(ErrValidation, op, "counted quantity %s is negative", cl.CountedQty)
			}
			v, err := s.variant(ctx, op, cl.VariantID)
			if err != nil {
				return err
			}
			if orgID == uuid.Nil {
				orgID = v.OrganizationID
			} else if v.OrganizationID != orgID {
				return newError(ErrValidation, op, "count mixes organizations")
			}
			counted, err := s.convert(ctx, op, v, cl.UOMID, cl.CountedQty)
			if err != nil {
				return err
			}
			bin, err := s.resolveBin(ctx, op, cl.BinID, v)
			if err != nil {
				return err
			}
			if bin.WarehouseID != count.WarehouseID {
				return newError(ErrValidation, op, "bin %s is not in the counted warehouse", bin.Code)
			}
			key := keyOf(v, bin)
			if _, dup := seen[key]; dup {
				return newError(ErrValidation, op, "duplicate count line for %s in bin %s", v.SKU, bin.Code)
			}
			seen[key] = struct{}{}
			plans = append(plans, countPlan{line: cl, variant: v, bin: bin, counted: counted})
			refs = append(refs, refOf(v, bin))
		}

		occurred := count.OccurredAt
		return s.inTx(ctx, src, func(tx LedgerTx) error {
			out = out[:0]
			levels, err := tx.LockLevels(ctx, refs)
			if err != nil {
				return err
			}
			for _, p := range plans {
				lvl := levels[keyOf(p.variant, p.bin)]
				delta := p.counted.Sub(lvl.OnHand)
				if delta.IsZero() {
					continue
				}
				lvl.OnHand = p.counted
				note := fmt.Sprintf("count %s", count.Code)
				t := s.newTxn(p.variant, TxCount, delta.Abs(), src, occurred, note)
				if delta.IsPositive() {
					toSide(&t, p.bin)
				} else {
					fromSide(&t, p.bin)
				}
				if err := tx.AppendTransaction(ctx, &t); err != nil {
					return err
				}
				out = append(out, t)
				if err := s.trimAllocation(ctx, tx, p.variant, p.bin, lvl, src, occurred); err != nil {
					return err
				}
				if err := s.saveLevel(ctx, tx, lvl); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ── Reservations ─────────────────────────────────────────────────────────────

func (s *inventoryService) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	const op = "reserve"
	src := SourceRef{Type: SourceSOLine, ID: req.SOLineID.String()}
	var out Reservation
	err := s.instrument(ctx, op, src, func() error {
		if req.SOLineID == uuid.Nil {
			return newError(ErrValidation, op, "sales order line is required")
		}
		v, qty, err := s.resolveQty(ctx, op, req.VariantID, req.UOMID, req.Qty)
		if err != nil {
			return err
		}
		bin, err := s.resolveBin(ctx, op, req.BinID, v)
		if err != nil {
			return err
		}
		return s.inTx(ctx, SourceRef{}, func(tx LedgerTx) error {
			levels, err := tx.LockLevels(ctx, []LevelRef{refOf(v, bin)})
			if err != nil {
				return err
			}
			lvl := levels[keyOf(v, bin)]
			if lvl.Allocated.Add(qty).GreaterThan(lvl.OnHand) {
				return newError(ErrOverAllocation, op, "%s available in bin %s for %s, requested %s",
					lvl.Available(), bin.Code, v.SKU, qty)
			}
			lvl.Allocated = lvl.Allocated.Add(qty)
			if err := s.saveLevel(ctx, tx, lvl); err != nil {
				return err
			}
			out = Reservation{
				ID:             uuid.New(),
				OrganizationID: v.OrganizationID,
				SOLineID:       req.SOLineID,
				VariantID:      v.ID,
				WarehouseID:    bin.WarehouseID,
				BinID:          bin.ID,
				Qty:            qty,
				Status:         ReservationActive,
				CreatedAt:      s.now().UTC(),
			}
			if err := tx.InsertReservation(ctx, &out); err != nil {
				return err
			}
			t := s.newTxn(v, TxReserve, qty, src, req.OccurredAt, "")
			fromSide(&t, bin)
			return tx.AppendTransaction(ctx, &t)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *inventoryService) Release(ctx context.Context, reservationID uuid.UUID) (*Reservation, error) {
	const op = "release"
	var out Reservation
	err := s.instrument(ctx, op, SourceRef{}, func() error {
		r, err := s.store.GetReservation(ctx, reservationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return newError(ErrNotFound, op, "reservation %s", reservationID)
			}
			return fmt.Errorf("failed to load reservation: %w", err)
		}
		if r.Status != ReservationActive {
			return newError(ErrReservationClosed, op, "reservation %s is %s", r.ID, r.Status)
		}
		v, err := s.variant(ctx, op, r.VariantID)
		if err != nil {
			return err
		}
		return s.inTx(ctx, SourceRef{}, func(tx LedgerTx) error {
			levels, err := tx.LockLevels(ctx, []LevelRef{r.Ref()})
			if err != nil {
				return err
			}
			released, err := s.releaseLocked(ctx, tx, v, levels[r.Key()], r.ID)
			if err != nil {
				return err
			}
			out = released
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *inventoryService) ReleaseForSOLine(ctx context.Context, soLineID uuid.UUID) ([]Reservation, error) {
	const op = "release_so_line"
	src := SourceRef{Type: SourceSOLine, ID: soLineID.String()}
	var out []Reservation
	err := s.instrument(ctx, op, src, func() error {
		active, err := s.store.ListReservations(ctx, ReservationFilter{SOLineID: soLineID, Status: ReservationActive})
		if err != nil {
			return fmt.Errorf("failed to list reservations: %w", err)
		}
		if len(active) == 0 {
			return nil
		}
		variants := make(map[uuid.UUID]Variant)
		refs := make([]LevelRef, 0, len(active))
		for _, r := range active {
			if _, ok := variants[r.VariantID]; !ok {
				v, err := s.variant(ctx, op, r.VariantID)
				if err != nil {
					return err
				}
				variants[r.VariantID] = v
			}
			refs = append(refs, r.Ref())
		}
		return s.inTx(ctx, SourceRef{}, func(tx LedgerTx) error {
			out = out[:0]
			levels, err := tx.LockLevels(ctx, refs)
			if err != nil {
				return err
			}
			for _, r := range active {
				released, err := s.releaseLocked(ctx, tx, variants[r.VariantID], levels[r.Key()], r.ID)
				if errors.Is(err, ErrReservationClosed) {
					continue
				}
				if err != nil {
					return err
				}
				out = append(out, released)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// releaseLocked releases one reservation whose level lock is already held.
func (s *inventoryService) releaseLocked(ctx context.Context, tx LedgerTx, v Variant, lvl *InventoryLevel, id uuid.UUID) (Reservation, error) {
	r, err := tx.LockReservation(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if r.Status != ReservationActive {
		return Reservation{}, newError(ErrReservationClosed, "release", "reservation %s is %s", r.ID, r.Status)
	}
	lvl.Allocated = lvl.Allocated.Sub(decimal.Min(lvl.Allocated, r.Qty))
	if err := s.saveLevel(ctx, tx, lvl); err != nil {
		return Reservation{}, err
	}
	closed := s.now().UTC()
	r.Status = ReservationReleased
	r.ClosedAt = &closed
	if err := tx.UpdateReservation(ctx, r); err != nil {
		return Reservation{}, err
	}
	t := s.newTxn(v, TxRelease, r.Qty, SourceRef{Type: SourceSOLine, ID: r.SOLineID.String()}, time.Time{}, "")
	t.WarehouseFromID = ptr(r.WarehouseID)
	t.BinFromID = ptr(r.BinID)
	if err := tx.AppendTransaction(ctx, &t); err != nil {
		return Reservation{}, err
	}
	return r, nil
}

// trimAllocation caps allocated at what is left on hand after stock left the
// bin outside a reservation. The newest reservations in the bin give way first
// and a RELEASE row records the drop so the ledger still replays to the level.
func (s *inventoryService) trimAllocation(ctx context.Context, tx LedgerTx, v Variant, bin Bin, lvl *InventoryLevel,
	src SourceRef, occurred time.Time) error {

	ceiling := decimal.Max(lvl.OnHand, decimal.Zero)
	if lvl.Allocated.LessThanOrEqual(ceiling) {
		return nil
	}
	excess := lvl.Allocated.Sub(ceiling)
	lvl.Allocated = ceiling

	rs, err := tx.ActiveReservations(ctx, uuid.Nil, keyOf(v, bin))
	if err != nil {
		return err
	}
	remaining := excess
	for i := len(rs) - 1; i >= 0 && remaining.IsPositive(); i-- {
		r := rs[i]
		if r.Qty.LessThanOrEqual(remaining) {
			remaining = remaining.Sub(r.Qty)
			closed := s.now().UTC()
			r.Status = ReservationReleased
			r.ClosedAt = &closed
		} else {
			r.Qty = r.Qty.Sub(remaining)
			remaining = decimal.Zero
		}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
	}
	s.log.WarnContext(ctx, "reservations trimmed to on hand",
		"sku", v.SKU, "bin", bin.Code, "released", excess, "on_hand", lvl.OnHand)

	t := s.newTxn(v, TxRelease, excess, src, occurred, "allocation trimmed to on hand")
	fromSide(&t, bin)
	return tx.AppendTransaction(ctx, &t)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// instrument wraps, logs and observes the outcome of one operation.
func (s *inventoryService) instrument(ctx context.Context, op string, src SourceRef, fn func() error) error {
	start := time.Now()
	err := wrapError(op, src, fn())
	elapsed := time.Since(start)
	outcome := Outcome(err)
	s.obs.ObservePosting(op, outcome, elapsed)

	attrs := []any{"op", op, "outcome", outcome, "elapsed", elapsed}
	if !src.IsZero() {
		attrs = append(attrs, "source_type", src.Type, "source_id", src.ID)
	}
	switch {
	case err == nil:
		s.log.DebugContext(ctx, "posting applied", attrs...)
	case outcome == "internal":
		s.log.ErrorContext(ctx, "posting failed", append(attrs, "error", err)...)
	default:
		s.log.WarnContext(ctx, "posting rejected", append(attrs, "error", err)...)
	}
	return err
}

// inTx runs fn atomically, claiming src first when it is set.
func (s *inventoryService) inTx(ctx context.Context, src SourceRef, fn func(tx LedgerTx) error) error {
	return s.store.WithinTx(ctx, func(tx LedgerTx) error {
		if !src.IsZero() {
			if err := tx.ClaimSource(ctx, src); err != nil {
				if errors.Is(err, ErrAlreadyPosted) {
					return newError(ErrAlreadyPosted, "", "%s was already posted", src)
				}
				return err
			}
		}
		return fn(tx)
	})
}

func (s *inventoryService) saveLevel(ctx context.Context, tx LedgerTx, lvl *InventoryLevel) error {
	lvl.UpdatedAt = s.now().UTC()
	return tx.SaveLevel(ctx, lvl)
}

func (s *inventoryService) variant(ctx context.Context, op string, id uuid.UUID) (Variant, error) {
	if id == uuid.Nil {
		return Variant{}, newError(ErrValidation, op, "variant is required")
	}
	v, err := s.store.Variant(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Variant{}, newError(ErrNotFound, op, "variant %s", id)
		}
		return Variant{}, fmt.Errorf("failed to load variant: %w", err)
	}
	return v, nil
}

// resolveQty loads the variant and converts a positive quantity to its base unit.
func (s *inventoryService) resolveQty(ctx context.Context, op string, variantID, uomID uuid.UUID, qty decimal.Decimal) (Variant, decimal.Decimal, error) {
	if !qty.IsPositive() {
		return Variant{}, decimal.Zero, newError(ErrValidation, op, "quantity must be positive, got %s", qty)
	}
	v, err := s.variant(ctx, op, variantID)
	if err != nil {
		return Variant{}, decimal.Zero, err
	}
	base, err := s.convert(ctx, op, v, uomID, qty)
	if err != nil {
		return Variant{}, decimal.Zero, err
	}
	return v, base, nil
}

func (s *inventoryService) convert(ctx context.Context, op string, v Variant, uomID uuid.UUID, qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.Equal(qty.Truncate(QtyScale)) {
		return decimal.Zero, newError(ErrValidation, op, "quantity %s exceeds %d decimal places", qty, QtyScale)
	}
	if uomID == uuid.Nil || uomID == v.BaseUOMID {
		return qty, nil
	}
	return s.uom.Convert(ctx, v.OrganizationID, qty, uomID, v.BaseUOMID)
}

func (s *inventoryService) resolveBin(ctx context.Context, op string, id uuid.UUID, v Variant) (Bin, error) {
	if id == uuid.Nil {
		return Bin{}, newError(ErrValidation, op, "bin is required")
	}
	b, err := s.store.Bin(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Bin{}, newError(ErrNotFound, op, "bin %s", id)
		}
		return Bin{}, fmt.Errorf("failed to load bin: %w", err)
	}
	if b.OrganizationID != v.OrganizationID {
		return Bin{}, newError(ErrValidation, op, "bin %s and variant %s belong to different organizations", b.Code, v.SKU)
	}
	return b, nil
}

func (s *inventoryService) newTxn(v Variant, typ TransactionType, qty decimal.Decimal, src SourceRef, occurred time.Time, note string) InventoryTransaction {
	if occurred.IsZero() {
		occurred = s.now()
	}
	return InventoryTransaction{
		OrganizationID: v.OrganizationID,
		VariantID:      v.ID,
		UOMID:          v.BaseUOMID,
		Qty:            qty,
		Type:           typ,
		SourceType:     src.Type,
		SourceID:       src.ID,
		OccurredAt:     occurred.UTC(),
		Note:           note,
	}
}

func requireSource(op string, src SourceRef) error {
	if src.Type == "" || src.ID == "" {
		return newError(ErrValidation, op, "source type and id are required")
	}
	return nil
}

func insufficient(op string, v Variant, b Bin, onHand, qty decimal.Decimal) error {
	return newError(ErrInsufficientStock, op, "bin %s holds %s of %s, requested %s", b.Code, onHand, v.SKU, qty)
}

func keyOf(v Variant, b Bin) LevelKey {
	return LevelKey{VariantID: v.ID, BinID: b.ID}
}

func refOf(v Variant, b Bin) LevelRef {
	return LevelRef{Key: keyOf(v, b), WarehouseID: b.WarehouseID}
}

func fromSide(t *InventoryTransaction, b Bin) {
	t.WarehouseFromID = ptr(b.WarehouseID)
	t.BinFromID = ptr(b.ID)
}

func toSide(t *InventoryTransaction, b Bin) {
	t.WarehouseToID = ptr(b.WarehouseID)
	t.BinToID = ptr(b.ID)
}

func ptr[T any](v T) *T { return &v }

package core

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QtyScale is the number of fractional digits stored for stock quantities.
const QtyScale = 3

// FactorScale is the number of fractional digits stored for UoM conversion factors.
const FactorScale = 6

// TransactionType classifies a ledger entry. Direction is encoded by which of the
// from/to bin pairs is populated, never by the sign of Qty.
type TransactionType string

const (
	TxReceive  TransactionType = "RECEIVE"
	TxIssue    TransactionType = "ISSUE"
	TxAdjust   TransactionType = "ADJUST"
	TxTransfer TransactionType = "TRANSFER"
	TxReserve  TransactionType = "RESERVE"
	TxRelease  TransactionType = "RELEASE"
	TxPick     TransactionType = "PICK"
	TxPack     TransactionType = "PACK"
	TxShip     TransactionType = "SHIP"
	TxReturnPO TransactionType = "RETURN_PO"
	TxReturnSO TransactionType = "RETURN_SO"
	TxCount    TransactionType = "COUNT"
)

var transactionTypes = map[TransactionType]struct{}{
	TxReceive: {}, TxIssue: {}, TxAdjust: {}, TxTransfer: {}, TxReserve: {}, TxRelease: {},
	TxPick: {}, TxPack: {}, TxShip: {}, TxReturnPO: {}, TxReturnSO: {}, TxCount: {},
}

// Valid reports whether t is one of the known ledger entry types.
func (t TransactionType) Valid() bool {
	_, ok := transactionTypes[t]
	return ok
}

// LevelKey identifies one InventoryLevel row.
type LevelKey struct {
	VariantID uuid.UUID
	BinID     uuid.UUID
}

// Less orders keys by bin first, then variant. Every multi-row lock acquisition
// follows this order.
func (k LevelKey) Less(o LevelKey) bool {
	if c := bytes.Compare(k.BinID[:], o.BinID[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(k.VariantID[:], o.VariantID[:]) < 0
}

func (k LevelKey) String() string {
	return k.VariantID.String() + "@" + k.BinID.String()
}

// LevelRef is a level key plus the warehouse the bin belongs to, which is needed
// when the row has to be created lazily.
type LevelRef struct {
	Key         LevelKey
	WarehouseID uuid.UUID
}

// LockOrder returns refs deduplicated by key and sorted in lock order.
func LockOrder(refs []LevelRef) []LevelRef {
	seen := make(map[LevelKey]struct{}, len(refs))
	out := make([]LevelRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r.Key]; ok {
			continue
		}
		seen[r.Key] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// InventoryLevel is the current stock snapshot for one variant in one bin.
type InventoryLevel struct {
	VariantID    uuid.UUID       `json:"variant_id"`
	BinID        uuid.UUID       `json:"bin_id"`
	WarehouseID  uuid.UUID       `json:"warehouse_id"`
	OnHand       decimal.Decimal `json:"on_hand"`
	Allocated    decimal.Decimal `json:"allocated"`
	SafetyStock  decimal.Decimal `json:"safety_stock"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewLevel returns a zero level for ref.
func NewLevel(ref LevelRef) InventoryLevel {
	return InventoryLevel{
		VariantID:   ref.Key.VariantID,
		BinID:       ref.Key.BinID,
		WarehouseID: ref.WarehouseID,
	}
}

func (l InventoryLevel) Key() LevelKey {
	return LevelKey{VariantID: l.VariantID, BinID: l.BinID}
}

// Available is on_hand - allocated, floored at zero.
func (l InventoryLevel) Available() decimal.Decimal {
	a := l.OnHand.Sub(l.Allocated)
	if a.IsNegative() {
		return decimal.Zero
	}
	return a
}

// BelowReorderPoint reports whether available stock dropped to or under the
// reorder point. Levels without a reorder point never report true.
func (l InventoryLevel) BelowReorderPoint() bool {
	return l.ReorderPoint.IsPositive() && l.Available().LessThanOrEqual(l.ReorderPoint)
}

// InventoryTransaction is an immutable ledger entry. Qty is always the
// recorded magnitude in the variant's base unit of measure.
type InventoryTransaction struct {
	ID              uuid.UUID       `json:"id"`
	Seq             int64           `json:"seq"`
	OrganizationID  uuid.UUID       `json:"organization_id"`
	VariantID       uuid.UUID       `json:"variant_id"`
	UOMID           uuid.UUID       `json:"uom_id"`
	Qty             decimal.Decimal `json:"qty"`
	Type            TransactionType `json:"type"`
	WarehouseFromID *uuid.UUID      `json:"warehouse_from_id,omitempty"`
	BinFromID       *uuid.UUID      `json:"bin_from_id,omitempty"`
	WarehouseToID   *uuid.UUID      `json:"warehouse_to_id,omitempty"`
	BinToID         *uuid.UUID      `json:"bin_to_id,omitempty"`
	BatchID         *uuid.UUID      `json:"batch_id,omitempty"`
	SerialID        *uuid.UUID      `json:"serial_id,omitempty"`
	SourceType      string          `json:"source_type"`
	SourceID        string          `json:"source_id"`
	OccurredAt      time.Time       `json:"occurred_at"`
	RecordedAt      time.Time       `json:"recorded_at"`
	Note            string          `json:"note,omitempty"`
}

// FromKey returns the level key of the source side, if populated.
func (t InventoryTransaction) FromKey() (LevelKey, bool) {
	if t.BinFromID == nil {
		return LevelKey{}, false
	}
	return LevelKey{VariantID: t.VariantID, BinID: *t.BinFromID}, true
}

// ToKey returns the level key of the destination side, if populated.
func (t InventoryTransaction) ToKey() (LevelKey, bool) {
	if t.BinToID == nil {
		return LevelKey{}, false
	}
	return LevelKey{VariantID: t.VariantID, BinID: *t.BinToID}, true
}

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationConsumed ReservationStatus = "CONSUMED"
)

// Reservation is a sales-order line's claim against on-hand stock in one bin.
type Reservation struct {
	ID             uuid.UUID         `json:"id"`
	OrganizationID uuid.UUID         `json:"organization_id"`
	SOLineID       uuid.UUID         `json:"so_line_id"`
	VariantID      uuid.UUID         `json:"variant_id"`
	WarehouseID    uuid.UUID         `json:"warehouse_id"`
	BinID          uuid.UUID         `json:"bin_id"`
	Qty            decimal.Decimal   `json:"qty"`
	Status         ReservationStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	ClosedAt       *time.Time        `json:"closed_at,omitempty"`
}

func (r Reservation) Key() LevelKey {
	return LevelKey{VariantID: r.VariantID, BinID: r.BinID}
}

func (r Reservation) Ref() LevelRef {
	return LevelRef{Key: r.Key(), WarehouseID: r.WarehouseID}
}

// Variant is the master-data view of a product variant.
type Variant struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	SKU            string
	BaseUOMID      uuid.UUID
}

// Bin is the master-data view of a bin location.
type Bin struct {
	ID             uuid.UUID
	WarehouseID    uuid.UUID
	OrganizationID uuid.UUID
	Code           string
}

// UnitOfMeasure is an organization-scoped unit.
type UnitOfMeasure struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Abbreviation   string
}

// UOMConversion stores a direct factor: qty(to) = qty(from) * Factor.
type UOMConversion struct {
	OrganizationID uuid.UUID
	FromUOMID      uuid.UUID
	ToUOMID        uuid.UUID
	Factor         decimal.Decimal
}

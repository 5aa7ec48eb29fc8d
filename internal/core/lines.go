package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Posting requests. Qty is always expressed in UOMID; uuid.Nil means the
// variant's base unit.

type ReceiptLine struct {
	Source     SourceRef
	VariantID  uuid.UUID
	BinID      uuid.UUID
	UOMID      uuid.UUID
	Qty        decimal.Decimal
	BatchID    *uuid.UUID
	OccurredAt time.Time
	Note       string
}

type ShipmentLine struct {
	Source    SourceRef
	VariantID uuid.UUID
	BinID     uuid.UUID
	UOMID     uuid.UUID
	Qty       decimal.Decimal
	// SOLineID, when set, consumes that line's ACTIVE reservations in BinID.
	SOLineID   *uuid.UUID
	BatchID    *uuid.UUID
	SerialID   *uuid.UUID
	OccurredAt time.Time
	Note       string
}

type TransferLine struct {
	Source     SourceRef
	VariantID  uuid.UUID
	FromBinID  uuid.UUID
	ToBinID    uuid.UUID
	UOMID      uuid.UUID
	Qty        decimal.Decimal
	BatchID    *uuid.UUID
	OccurredAt time.Time
	Note       string
}

// IssueLine removes stock for internal consumption (no customer shipment).
type IssueLine struct {
	Source     SourceRef
	VariantID  uuid.UUID
	BinID      uuid.UUID
	UOMID      uuid.UUID
	Qty        decimal.Decimal
	OccurredAt time.Time
	Note       string
}

// AdjustmentLine applies a signed correction to on_hand. Negative results are
// rejected unless AllowNegative is set.
type AdjustmentLine struct {
	Source        SourceRef
	VariantID     uuid.UUID
	BinID         uuid.UUID
	UOMID         uuid.UUID
	Delta         decimal.Decimal
	AllowNegative bool
	OccurredAt    time.Time
	Note          string
}

type ReturnKind string

const (
	// ReturnFromCustomer puts stock back into a bin (RETURN_SO).
	ReturnFromCustomer ReturnKind = "CUSTOMER"
	// ReturnToSupplier takes stock out of a bin (RETURN_PO).
	ReturnToSupplier ReturnKind = "SUPPLIER"
)

type ReturnLine struct {
	Source     SourceRef
	Kind       ReturnKind
	VariantID  uuid.UUID
	BinID      uuid.UUID
	UOMID      uuid.UUID
	Qty        decimal.Decimal
	BatchID    *uuid.UUID
	OccurredAt time.Time
	Note       string
}

// StockCount is a closed physical count ready for reconciliation.
type StockCount struct {
	ID          uuid.UUID
	Code        string
	WarehouseID uuid.UUID
	Lines       []CountLine
	OccurredAt  time.Time
}

type CountLine struct {
	ID         uuid.UUID
	VariantID  uuid.UUID
	BinID      uuid.UUID
	UOMID      uuid.UUID
	CountedQty decimal.Decimal
}

// ReserveRequest earmarks stock in one bin for a sales-order line.
type ReserveRequest struct {
	SOLineID   uuid.UUID
	VariantID  uuid.UUID
	BinID      uuid.UUID
	UOMID      uuid.UUID
	Qty        decimal.Decimal
	OccurredAt time.Time
}

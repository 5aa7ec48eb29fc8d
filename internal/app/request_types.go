package app

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"inventory-ledger/internal/core"
)

// Request types carry JSON tags so adapters can decode bodies into them
// directly. A zero uom_id means the variant's base unit.

// ReceiptRequest is the input for PostReceipt.
type ReceiptRequest struct {
	core.SourceRef
	VariantID  uuid.UUID       `json:"variant_id"`
	BinID      uuid.UUID       `json:"bin_id"`
	UOMID      uuid.UUID       `json:"uom_id"`
	Qty        decimal.Decimal `json:"qty"`
	BatchID    *uuid.UUID      `json:"batch_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Note       string          `json:"note"`
}

func (r ReceiptRequest) line() core.ReceiptLine {
	return core.ReceiptLine{
		Source: r.SourceRef, VariantID: r.VariantID, BinID: r.BinID, UOMID: r.UOMID, Qty: r.Qty,
		BatchID: r.BatchID, OccurredAt: r.OccurredAt, Note: r.Note,
	}
}

// ShipmentRequest is the input for PostShipment.
type ShipmentRequest struct {
	core.SourceRef
	VariantID  uuid.UUID       `json:"variant_id"`
	BinID      uuid.UUID       `json:"bin_id"`
	UOMID      uuid.UUID       `json:"uom_id"`
	Qty        decimal.Decimal `json:"qty"`
	SOLineID   *uuid.UUID      `json:"so_line_id,omitempty"`
	BatchID    *uuid.UUID      `json:"batch_id,omitempty"`
	SerialID   *uuid.UUID      `json:"serial_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Note       string          `json:"note"`
}

func (r ShipmentRequest) line() core.ShipmentLine {
	return core.ShipmentLine{
		Source: r.SourceRef, VariantID: r.VariantID, BinID: r.BinID, UOMID: r.UOMID, Qty: r.Qty,
		SOLineID: r.SOLineID, BatchID: r.BatchID, SerialID: r.SerialID, OccurredAt: r.OccurredAt, Note: r.Note,
	}
}

// TransferRequest is the input for PostTransfer.
type TransferRequest struct {
	core.SourceRef
	VariantID  uuid.UUID       `json:"variant_id"`
	FromBinID  uuid.UUID       `json:"from_bin_id"`
	ToBinID    uuid.UUID       `json:"to_bin_id"`
	UOMID      uuid.UUID       `json:"uom_id"`
	Qty        decimal.Decimal `json:"qty"`
	BatchID    *uuid.UUID      `json:"batch_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Note       string          `json:"note"`
}

func (r TransferRequest) line() core.TransferLine {
	return core.TransferLine{
		Source: r.SourceRef, VariantID: r.VariantID, FromBinID: r.FromBinID, ToBinID: r.ToBinID,
		UOMID: r.UOMID, Qty: r.Qty, BatchID: r.BatchID, OccurredAt: r.OccurredAt, Note: r.Note,
	}
}

// IssueRequest is the input for PostIssue.
type IssueRequest struct {
	core.SourceRef
	VariantID  uuid.UUID       `json:"variant_id"`
	BinID      uuid.UUID       `json:"bin_id"`
	UOMID      uuid.UUID       `json:"uom_id"`
	Qty        decimal.Decimal `json:"qty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Note       string          `json:"note"`
}

func (r IssueRequest) line() core.IssueLine {
	return core.IssueLine{
		Source: r.SourceRef, VariantID: r.VariantID, BinID: r.BinID, UOMID: r.UOMID, Qty: r.Qty,
		OccurredAt: r.OccurredAt, Note: r.Note,
	}
}

// AdjustmentRequest is the input for PostAdjustment. Delta is signed.
type AdjustmentRequest struct {
	core.SourceRef
	VariantID     uuid.UUID       `json:"variant_id"`
	BinID         uuid.UUID       `json:"bin_id"`
	UOMID         uuid.UUID       `json:"uom_id"`
	Delta         decimal.Decimal `json:"delta"`
	AllowNegative bool            `json:"allow_negative"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Note          string          `json:"note"`
}

func (r AdjustmentRequest) line() core.AdjustmentLine {
	return core.AdjustmentLine{
		Source: r.SourceRef, VariantID: r.VariantID, BinID: r.BinID, UOMID: r.UOMID, Delta: r.Delta,
		AllowNegative: r.AllowNegative, OccurredAt: r.OccurredAt, Note: r.Note,
	}
}

// ReturnRequest is the input for PostReturn. Kind is CUSTOMER or SUPPLIER.
type ReturnRequest struct {
	core.SourceRef
	Kind       core.ReturnKind `json:"kind"`
	VariantID  uuid.UUID       `json:"variant_id"`
	BinID      uuid.UUID       `json:"bin_id"`
	UOMID      uuid.UUID       `json:"uom_id"`
	Qty        decimal.Decimal `json:"qty"`
	BatchID    *uuid.UUID      `json:"batch_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Note       string          `json:"note"`
}

func (r ReturnRequest) line() core.ReturnLine {
	return core.ReturnLine{
		Source: r.SourceRef, Kind: r.Kind, VariantID: r.VariantID, BinID: r.BinID, UOMID: r.UOMID,
		Qty: r.Qty, BatchID: r.BatchID, OccurredAt: r.OccurredAt, Note: r.Note,
	}
}

// CountRequest reconciles an ad-hoc count that is not stored as a document.
type CountRequest struct {
	ID          uuid.UUID          `json:"id"`
	Code        string             `json:"code"`
	WarehouseID uuid.UUID          `json:"warehouse_id"`
	OccurredAt  time.Time          `json:"occurred_at"`
	Lines       []CountLineRequest `json:"lines"`
}

type CountLineRequest struct {
	VariantID  uuid.UUID       `json:"variant_id"`
	BinID      uuid.UUID       `json:"bin_id"`
	UOMID      uuid.UUID       `json:"uom_id"`
	CountedQty decimal.Decimal `json:"counted_qty"`
}

func (r CountRequest) count() core.StockCount {
	c := core.StockCount{ID: r.ID, Code: r.Code, WarehouseID: r.WarehouseID, OccurredAt: r.OccurredAt}
	for _, l := range r.Lines {
		c.Lines = append(c.Lines, core.CountLine{
			ID: uuid.New(), VariantID: l.VariantID, BinID: l.BinID, UOMID: l.UOMID, CountedQty: l.CountedQty,
		})
	}
	return c
}

// ReserveRequest is the input for Reserve.
type ReserveRequest struct {
	SOLineID   uuid.UUID       `json:"so_line_id"`
	VariantID  uuid.UUID       `json:"variant_id"`
	BinID      uuid.UUID       `json:"bin_id"`
	UOMID      uuid.UUID       `json:"uom_id"`
	Qty        decimal.Decimal `json:"qty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (r ReserveRequest) request() core.ReserveRequest {
	return core.ReserveRequest{
		SOLineID: r.SOLineID, VariantID: r.VariantID, BinID: r.BinID, UOMID: r.UOMID, Qty: r.Qty,
		OccurredAt: r.OccurredAt,
	}
}

// ConversionRequest is the input for UpsertConversion.
type ConversionRequest struct {
	OrganizationID uuid.UUID       `json:"organization_id"`
	FromUOMID      uuid.UUID       `json:"from_uom_id"`
	ToUOMID        uuid.UUID       `json:"to_uom_id"`
	Factor         decimal.Decimal `json:"factor"`
}

package documents

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source types the document layer stamps on ledger entries.
const (
	SourceGoodsReceiptLine = "GoodsReceiptLine"
	SourceShipmentLine     = "ShipmentLine"
	SourceTransferLine     = "TransferLine"
	SourceSale             = "Sale"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusOpen      Status = "OPEN"
	StatusPosted    Status = "POSTED"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
)

// Kind names a postable document type.
type Kind string

const (
	KindGoodsReceipt  Kind = "goods_receipt"
	KindShipment      Kind = "shipment"
	KindStockTransfer Kind = "stock_transfer"
	KindStockCount    Kind = "stock_count"
)

// ── Purchasing ───────────────────────────────────────────────────────────────

// POLine is the purchase-order line a goods receipt fulfils.
type POLine struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	VariantID      uuid.UUID       `json:"variant_id"`
	QtyOrdered     decimal.Decimal `json:"qty_ordered"`
	QtyReceived    decimal.Decimal `json:"qty_received"`
}

type GoodsReceipt struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Code           string    `json:"code"`
	Status         Status    `json:"status"`
	ReceivedAt     time.Time `json:"received_at"`
	Lines          []GRLine  `json:"lines"`
}

type GRLine struct {
	ID        uuid.UUID       `json:"id"`
	POLineID  *uuid.UUID      `json:"po_line_id,omitempty"`
	VariantID uuid.UUID       `json:"variant_id"`
	BinID     uuid.UUID       `json:"bin_id"`
	UOMID     uuid.UUID       `json:"uom_id"`
	Qty       decimal.Decimal `json:"qty"`
	BatchID   *uuid.UUID      `json:"batch_id,omitempty"`
	PostedAt  *time.Time      `json:"posted_at,omitempty"`
}

// ── Sales ────────────────────────────────────────────────────────────────────

type SOLine struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	VariantID      uuid.UUID       `json:"variant_id"`
	QtyOrdered     decimal.Decimal `json:"qty_ordered"`
	QtyShipped     decimal.Decimal `json:"qty_shipped"`
	Status         Status          `json:"status"`
}

type Shipment struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	Code           string         `json:"code"`
	Status         Status         `json:"status"`
	ShippedAt      time.Time      `json:"shipped_at"`
	Lines          []ShipmentLine `json:"lines"`
}

type ShipmentLine struct {
	ID        uuid.UUID       `json:"id"`
	SOLineID  *uuid.UUID      `json:"so_line_id,omitempty"`
	VariantID uuid.UUID       `json:"variant_id"`
	BinID     uuid.UUID       `json:"bin_id"`
	UOMID     uuid.UUID       `json:"uom_id"`
	Qty       decimal.Decimal `json:"qty"`
	BatchID   *uuid.UUID      `json:"batch_id,omitempty"`
	SerialID  *uuid.UUID      `json:"serial_id,omitempty"`
	PostedAt  *time.Time      `json:"posted_at,omitempty"`
}

// Sale is a walk-in sale booked straight off a bin. Total is derived from
// Qty and PriceAtSale and is never supplied by the caller.
type Sale struct {
	ID              uuid.UUID       `json:"id"`
	OrganizationID  uuid.UUID       `json:"organization_id"`
	VariantID       uuid.UUID       `json:"variant_id"`
	BinID           uuid.UUID       `json:"bin_id"`
	Qty             decimal.Decimal `json:"qty"`
	PriceAtSale     decimal.Decimal `json:"price_at_sale"`
	Total           decimal.Decimal `json:"total"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerContact string          `json:"customer_contact,omitempty"`
	SoldAt          time.Time       `json:"sold_at"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
}

// SaleRequest records a sale. ID is optional; a caller that supplies one can
// retry the request safely.
type SaleRequest struct {
	ID              uuid.UUID       `json:"id"`
	VariantID       uuid.UUID       `json:"variant_id"`
	BinID           uuid.UUID       `json:"bin_id"`
	UOMID           uuid.UUID       `json:"uom_id"`
	Qty             decimal.Decimal `json:"qty"`
	PriceAtSale     decimal.Decimal `json:"price_at_sale"`
	SOLineID        *uuid.UUID      `json:"so_line_id,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerContact string          `json:"customer_contact,omitempty"`
	SoldAt          time.Time       `json:"sold_at"`
}

// ── Internal movements ───────────────────────────────────────────────────────

type StockTransfer struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	Code           string         `json:"code"`
	Status         Status         `json:"status"`
	TransferredAt  time.Time      `json:"transferred_at"`
	Lines          []TransferLine `json:"lines"`
}

type TransferLine struct {
	ID        uuid.UUID       `json:"id"`
	VariantID uuid.UUID       `json:"variant_id"`
	FromBinID uuid.UUID       `json:"from_bin_id"`
	ToBinID   uuid.UUID       `json:"to_bin_id"`
	UOMID     uuid.UUID       `json:"uom_id"`
	Qty       decimal.Decimal `json:"qty"`
	BatchID   *uuid.UUID      `json:"batch_id,omitempty"`
	PostedAt  *time.Time      `json:"posted_at,omitempty"`
}

type StockCount struct {
	ID          uuid.UUID   `json:"id"`
	WarehouseID uuid.UUID   `json:"warehouse_id"`
	Code        string      `json:"code"`
	Status      Status      `json:"status"`
	CountedAt   time.Time   `json:"counted_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	Lines       []CountLine `json:"lines"`
}

// CountLine.Variance is filled in when the count is closed: counted minus
// system quantity, in the variant's base unit.
type CountLine struct {
	ID           uuid.UUID        `json:"id"`
	VariantID    uuid.UUID        `json:"variant_id"`
	BinID        uuid.UUID        `json:"bin_id"`
	UOMID        uuid.UUID        `json:"uom_id"`
	CountedQty   decimal.Decimal  `json:"counted_qty"`
	Variance     *decimal.Decimal `json:"variance,omitempty"`
	VarianceNote string           `json:"variance_note,omitempty"`
}

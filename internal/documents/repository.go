package documents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository persists documents and their fulfilment bookkeeping. Missing
// documents or lines return core.ErrNotFound.
//
// The Mark*LinePosted methods are idempotent: the first call stamps the line
// and bumps the referenced order line by qty, the quantity that moved in the
// variant's base unit. Later calls do nothing. This lets a document whose
// bookkeeping failed midway be posted again.
type Repository interface {
	CreateGoodsReceipt(ctx context.Context, gr *GoodsReceipt) error
	CreateShipment(ctx context.Context, sh *Shipment) error
	CreateStockTransfer(ctx context.Context, st *StockTransfer) error
	CreateStockCount(ctx context.Context, sc *StockCount) error

	GoodsReceipt(ctx context.Context, id uuid.UUID) (GoodsReceipt, error)
	Shipment(ctx context.Context, id uuid.UUID) (Shipment, error)
	StockTransfer(ctx context.Context, id uuid.UUID) (StockTransfer, error)
	StockCount(ctx context.Context, id uuid.UUID) (StockCount, error)
	POLine(ctx context.Context, id uuid.UUID) (POLine, error)
	SOLine(ctx context.Context, id uuid.UUID) (SOLine, error)

	MarkReceiptLinePosted(ctx context.Context, line GRLine, qty decimal.Decimal, at time.Time) error
	MarkShipmentLinePosted(ctx context.Context, line ShipmentLine, qty decimal.Decimal, at time.Time) error
	MarkTransferLinePosted(ctx context.Context, lineID uuid.UUID, at time.Time) error
	SetStatus(ctx context.Context, kind Kind, id uuid.UUID, status Status) error

	// ReplaceCountLines swaps the lines of an OPEN count.
	ReplaceCountLines(ctx context.Context, countID uuid.UUID, lines []CountLine) error
	// CloseStockCount marks the count CLOSED and records per-line variances.
	CloseStockCount(ctx context.Context, countID uuid.UUID, variances map[uuid.UUID]decimal.Decimal, at time.Time) error

	CancelSOLine(ctx context.Context, id uuid.UUID) error
	// InsertSale stores s unless a sale with the same id already exists.
	InsertSale(ctx context.Context, s Sale) error
	Sale(ctx context.Context, id uuid.UUID) (Sale, error)
}

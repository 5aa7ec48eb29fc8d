package app

import (
	"context"
	"io"

	"github.com/google/uuid"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/documents"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It decouples presentation from business logic. Implementations must contain
// no printing and no display logic of any kind.
type ApplicationService interface {
	// GetLevel returns the level of one (variant, bin) pair. Pairs that never
	// saw a movement come back as a zero level.
	GetLevel(ctx context.Context, variantID, binID uuid.UUID) (*LevelResult, error)

	// ListLevels returns levels matching f, ordered by bin then variant.
	ListLevels(ctx context.Context, f core.LevelFilter) (*LevelListResult, error)

	// ListTransactions returns ledger rows matching f in seq order.
	ListTransactions(ctx context.Context, f core.TransactionFilter) (*TransactionListResult, error)

	// ListReservations returns reservations matching f, oldest first.
	ListReservations(ctx context.Context, f core.ReservationFilter) (*ReservationListResult, error)

	// Posting operations. Lock timeouts are retried with backoff before the
	// error reaches the caller.
	PostReceipt(ctx context.Context, req ReceiptRequest) (*PostingResult, error)
	PostShipment(ctx context.Context, req ShipmentRequest) (*PostingResult, error)
	PostTransfer(ctx context.Context, req TransferRequest) (*PostingResult, error)
	PostIssue(ctx context.Context, req IssueRequest) (*PostingResult, error)
	PostAdjustment(ctx context.Context, req AdjustmentRequest) (*PostingResult, error)
	PostReturn(ctx context.Context, req ReturnRequest) (*PostingResult, error)
	PostCount(ctx context.Context, req CountRequest) (*CountResult, error)

	Reserve(ctx context.Context, req ReserveRequest) (*ReservationResult, error)
	Release(ctx context.Context, reservationID uuid.UUID) (*ReservationResult, error)

	// UpsertConversion stores a direct UoM conversion factor.
	UpsertConversion(ctx context.Context, req ConversionRequest) error

	// PostDocument posts a stored document; counts are closed as well.
	PostDocument(ctx context.Context, kind documents.Kind, id uuid.UUID) (*documents.PostResult, error)

	// RecordSale ships sold stock and stores the sale record.
	RecordSale(ctx context.Context, req documents.SaleRequest) (*documents.Sale, error)

	// CancelSOLine releases a sales-order line's reservations and cancels it.
	CancelSOLine(ctx context.Context, soLineID uuid.UUID) (*ReservationListResult, error)

	// ImportCountSheet replaces the lines of an OPEN count with the rows of
	// a filled xlsx count sheet.
	ImportCountSheet(ctx context.Context, countID uuid.UUID, r io.Reader) (*ImportResult, error)

	// Export* render xlsx workbooks to w.
	ExportLevels(ctx context.Context, w io.Writer, f core.LevelFilter) error
	ExportLedger(ctx context.Context, w io.Writer, f core.TransactionFilter) error
	ExportCountSheet(ctx context.Context, w io.Writer, warehouseID uuid.UUID) error

	// Audit replays the full ledger and reports levels that disagree with it.
	Audit(ctx context.Context) (*AuditResult, error)
}

package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"inventory-ledger/internal/core"
)

// Service posts whole documents through the inventory engine. Each line is its
// own atomic posting; the first failing line stops the document.
type Service interface {
	PostGoodsReceipt(ctx context.Context, id uuid.UUID) (*PostResult, error)
	PostShipment(ctx context.Context, id uuid.UUID) (*PostResult, error)
	PostTransfer(ctx context.Context, id uuid.UUID) (*PostResult, error)
	// CloseAndPostCount reconciles an OPEN count in one unit and closes it.
	CloseAndPostCount(ctx context.Context, id uuid.UUID) (*PostResult, error)
	// RecordSale ships the sold quantity and then stores the sale record.
	RecordSale(ctx context.Context, req SaleRequest) (*Sale, error)
	// CancelSOLine releases the line's reservations and marks it CANCELLED.
	CancelSOLine(ctx context.Context, soLineID uuid.UUID) ([]core.Reservation, error)
}

// PostResult lists what a posting run did. Skipped holds line ids that had
// been posted by an earlier run.
type PostResult struct {
	Kind       Kind                        `json:"kind"`
	DocumentID uuid.UUID                   `json:"document_id"`
	Posted     []core.InventoryTransaction `json:"posted"`
	Skipped    []uuid.UUID                 `json:"skipped,omitempty"`
}

// LineError reports the line that stopped a document. It unwraps to the
// engine error, so errors.Is against core sentinels keeps working.
type LineError struct {
	Kind       Kind
	DocumentID uuid.UUID
	LineID     uuid.UUID
	Err        error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s %s line %s: %v", e.Kind, e.DocumentID, e.LineID, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

type service struct {
	repo  Repository
	inv   core.InventoryService
	query core.QueryService
	log   *slog.Logger
	now   func() time.Time
}

func NewService(repo Repository, inv core.InventoryService, query core.QueryService, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{repo: repo, inv: inv, query: query, log: log, now: time.Now}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrValidation, fmt.Sprintf(format, args...))
}

// ── Goods receipts ───────────────────────────────────────────────────────────

func (s *service) PostGoodsReceipt(ctx context.Context, id uuid.UUID) (*PostResult, error) {
	gr, err := s.repo.GoodsReceipt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load goods receipt %s: %w", id, err)
	}
	if gr.Status == StatusCancelled {
		return nil, invalid("goods receipt %s is cancelled", gr.Code)
	}

	res := &PostResult{Kind: KindGoodsReceipt, DocumentID: gr.ID}
	for _, line := range gr.Lines {
		if line.PostedAt != nil {
			res.Skipped = append(res.Skipped, line.ID)
			continue
		}
		src := core.SourceRef{Type: SourceGoodsReceiptLine, ID: line.ID.String()}
		txn, err := s.inv.PostReceipt(ctx, core.ReceiptLine{
			Source:     src,
			VariantID:  line.VariantID,
			BinID:      line.BinID,
			UOMID:      line.UOMID,
			Qty:        line.Qty,
			BatchID:    line.BatchID,
			OccurredAt: gr.ReceivedAt,
			Note:       "GR " + gr.Code,
		})
		qty, err := s.collect(ctx, res, line.ID, src, txn, err)
		if err != nil {
			return res, err
		}
		if err := s.repo.MarkReceiptLinePosted(ctx, line, qty, s.now().UTC()); err != nil {
			return res, &LineError{Kind: res.Kind, DocumentID: gr.ID, LineID: line.ID,
				Err: fmt.Errorf("failed to record receipt bookkeeping: %w", err)}
		}
	}
	return s.finish(ctx, res)
}

// ── Shipments ────────────────────────────────────────────────────────────────

func (s *service) PostShipment(ctx context.Context, id uuid.UUID) (*PostResult, error) {
	sh, err := s.repo.Shipment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load shipment %s: %w", id, err)
	}
	if sh.Status == StatusCancelled {
		return nil, invalid("shipment %s is cancelled", sh.Code)
	}

	res := &PostResult{Kind: KindShipment, DocumentID: sh.ID}
	for _, line := range sh.Lines {
		if line.PostedAt != nil {
			res.Skipped = append(res.Skipped, line.ID)
			continue
		}
		src := core.SourceRef{Type: SourceShipmentLine, ID: line.ID.String()}
		txn, err := s.inv.PostShipment(ctx, core.ShipmentLine{
			Source:     src,
			VariantID:  line.VariantID,
			BinID:      line.BinID,
			UOMID:      line.UOMID,
			Qty:        line.Qty,
			SOLineID:   line.SOLineID,
			BatchID:    line.BatchID,
			SerialID:   line.SerialID,
			OccurredAt: sh.ShippedAt,
			Note:       "SHP " + sh.Code,
		})
		qty, err := s.collect(ctx, res, line.ID, src, txn, err)
		if err != nil {
			return res, err
		}
		if err := s.repo.MarkShipmentLinePosted(ctx, line, qty, s.now().UTC()); err != nil {
			return res, &LineError{Kind: res.Kind, DocumentID: sh.ID, LineID: line.ID,
				Err: fmt.Errorf("failed to record shipment bookkeeping: %w", err)}
		}
	}
	return s.finish(ctx, res)
}

// ── Transfers ────────────────────────────────────────────────────────────────

func (s *service) PostTransfer(ctx context.Context, id uuid.UUID) (*PostResult, error) {
	st, err := s.repo.StockTransfer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock transfer %s: %w", id, err)
	}
	if st.Status == StatusCancelled {
		return nil, invalid("stock transfer %s is cancelled", st.Code)
	}

	res := &PostResult{Kind: KindStockTransfer, DocumentID: st.ID}
	for _, line := range st.Lines {
		if line.PostedAt != nil {
			res.Skipped = append(res.Skipped, line.ID)
			continue
		}
		src := core.SourceRef{Type: SourceTransferLine, ID: line.ID.String()}
		txn, err := s.inv.PostTransfer(ctx, core.TransferLine{
			Source:     src,
			VariantID:  line.VariantID,
			FromBinID:  line.FromBinID,
			ToBinID:    line.ToBinID,
			UOMID:      line.UOMID,
			Qty:        line.Qty,
			BatchID:    line.BatchID,
			OccurredAt: st.TransferredAt,
			Note:       "TRF " + st.Code,
		})
		if _, err := s.collect(ctx, res, line.ID, src, txn, err); err != nil {
			return res, err
		}
		if err := s.repo.MarkTransferLinePosted(ctx, line.ID, s.now().UTC()); err != nil {
			return res, &LineError{Kind: res.Kind, DocumentID: st.ID, LineID: line.ID,
				Err: fmt.Errorf("failed to record transfer bookkeeping: %w", err)}
		}
	}
	return s.finish(ctx, res)
}

// ── Stock counts ─────────────────────────────────────────────────────────────

func (s *service) CloseAndPostCount(ctx context.Context, id uuid.UUID) (*PostResult, error) {
	sc, err := s.repo.StockCount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock count %s: %w", id, err)
	}
	if sc.Status == StatusClosed {
		return nil, fmt.Errorf("stock count %s is already closed: %w", sc.Code, core.ErrAlreadyPosted)
	}

	count := core.StockCount{ID: sc.ID, Code: sc.Code, WarehouseID: sc.WarehouseID, OccurredAt: sc.CountedAt}
	for _, l := range sc.Lines {
		count.Lines = append(count.Lines, core.CountLine{
			ID: l.ID, VariantID: l.VariantID, BinID: l.BinID, UOMID: l.UOMID, CountedQty: l.CountedQty,
		})
	}

	res := &PostResult{Kind: KindStockCount, DocumentID: sc.ID}
	txns, err := s.inv.PostCountReconciliation(ctx, count)
	switch {
	case err == nil:
		res.Posted = txns
	case errors.Is(err, core.ErrAlreadyPosted):
		// reconciled earlier but never closed; rebuild variances from the ledger
		txns, err = s.query.ListTransactions(ctx, core.TransactionFilter{
			SourceType: core.SourceStockCount, SourceID: sc.ID.String(), Limit: core.MaxPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load count ledger entries: %w", err)
		}
		for _, l := range sc.Lines {
			res.Skipped = append(res.Skipped, l.ID)
		}
	default:
		return nil, err
	}

	if err := s.repo.CloseStockCount(ctx, sc.ID, countVariances(sc.Lines, txns), s.now().UTC()); err != nil {
		return res, fmt.Errorf("failed to close stock count %s: %w", sc.Code, err)
	}
	s.log.InfoContext(ctx, "stock count closed", "count", sc.Code, "adjusted_lines", len(txns))
	return res, nil
}

// countVariances maps each count line to its signed base-unit variance.
func countVariances(lines []CountLine, txns []core.InventoryTransaction) map[uuid.UUID]decimal.Decimal {
	byKey := make(map[core.LevelKey]decimal.Decimal, len(txns))
	for _, t := range txns {
		if t.Type != core.TxCount {
			continue
		}
		if k, ok := t.ToKey(); ok {
			byKey[k] = t.Qty
		} else if k, ok := t.FromKey(); ok {
			byKey[k] = t.Qty.Neg()
		}
	}
	out := make(map[uuid.UUID]decimal.Decimal, len(lines))
	for _, l := range lines {
		out[l.ID] = byKey[core.LevelKey{VariantID: l.VariantID, BinID: l.BinID}]
	}
	return out
}

// ── Sales ────────────────────────────────────────────────────────────────────

func (s *service) RecordSale(ctx context.Context, req SaleRequest) (*Sale, error) {
	if !req.Qty.IsPositive() {
		return nil, invalid("sale quantity must be positive, got %s", req.Qty)
	}
	if req.PriceAtSale.IsNegative() {
		return nil, invalid("sale price must not be negative, got %s", req.PriceAtSale)
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.SoldAt.IsZero() {
		req.SoldAt = s.now().UTC()
	}

	sale := Sale{
		ID:              req.ID,
		VariantID:       req.VariantID,
		BinID:           req.BinID,
		Qty:             req.Qty,
		PriceAtSale:     req.PriceAtSale,
		Total:           req.Qty.Mul(req.PriceAtSale).Round(2),
		CustomerName:    req.CustomerName,
		CustomerContact: req.CustomerContact,
		SoldAt:          req.SoldAt,
	}
	src := core.SourceRef{Type: SourceSale, ID: sale.ID.String()}

	txn, err := s.inv.PostShipment(ctx, core.ShipmentLine{
		Source:     src,
		VariantID:  req.VariantID,
		BinID:      req.BinID,
		UOMID:      req.UOMID,
		Qty:        req.Qty,
		SOLineID:   req.SOLineID,
		OccurredAt: req.SoldAt,
		Note:       "sale",
	})
	if errors.Is(err, core.ErrAlreadyPosted) {
		if existing, lerr := s.repo.Sale(ctx, sale.ID); lerr == nil {
			return &existing, nil
		}
		// stock left the bin but the sale row was never written
		txn, err = s.postedTransaction(ctx, src)
	}
	if err != nil {
		return nil, err
	}

	sale.OrganizationID = txn.OrganizationID
	sale.TransactionID = txn.ID
	if err := s.repo.InsertSale(ctx, sale); err != nil {
		s.log.ErrorContext(ctx, "sale posted but not recorded", "sale_id", sale.ID, "transaction_id", txn.ID, "error", err)
		return nil, fmt.Errorf("failed to record sale %s: %w", sale.ID, err)
	}
	return &sale, nil
}

// postedTransaction reads back the first ledger entry written for src.
func (s *service) postedTransaction(ctx context.Context, src core.SourceRef) (*core.InventoryTransaction, error) {
	txns, err := s.query.ListTransactions(ctx, core.TransactionFilter{SourceType: src.Type, SourceID: src.ID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entry of %s: %w", src, err)
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("%s claimed without a ledger entry: %w", src, core.ErrNotFound)
	}
	return &txns[0], nil
}

func (s *service) CancelSOLine(ctx context.Context, soLineID uuid.UUID) ([]core.Reservation, error) {
	line, err := s.repo.SOLine(ctx, soLineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sales order line %s: %w", soLineID, err)
	}
	released, err := s.inv.ReleaseForSOLine(ctx, soLineID)
	if err != nil {
		return nil, err
	}
	if line.Status != StatusCancelled {
		if err := s.repo.CancelSOLine(ctx, soLineID); err != nil {
			return released, fmt.Errorf("failed to cancel sales order line %s: %w", soLineID, err)
		}
	}
	s.log.InfoContext(ctx, "sales order line cancelled", "so_line_id", soLineID, "released", len(released))
	return released, nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// collect books the outcome of one line posting into res.
// collect records the outcome of one line and returns the base-unit quantity
// it moved. A line posted by an earlier attempt is read back from the ledger.
func (s *service) collect(ctx context.Context, res *PostResult, lineID uuid.UUID, src core.SourceRef,
	txn *core.InventoryTransaction, err error) (decimal.Decimal, error) {

	switch {
	case err == nil:
		res.Posted = append(res.Posted, *txn)
		return txn.Qty, nil
	case errors.Is(err, core.ErrAlreadyPosted):
		prev, lerr := s.postedTransaction(ctx, src)
		if lerr != nil {
			return decimal.Zero, &LineError{Kind: res.Kind, DocumentID: res.DocumentID, LineID: lineID, Err: lerr}
		}
		res.Skipped = append(res.Skipped, lineID)
		return prev.Qty, nil
	default:
		return decimal.Zero, &LineError{Kind: res.Kind, DocumentID: res.DocumentID, LineID: lineID, Err: err}
	}
}

func (s *service) finish(ctx context.Context, res *PostResult) (*PostResult, error) {
	if err := s.repo.SetStatus(ctx, res.Kind, res.DocumentID, StatusPosted); err != nil {
		return res, fmt.Errorf("failed to mark %s %s posted: %w", res.Kind, res.DocumentID, err)
	}
	s.log.InfoContext(ctx, "document posted", "kind", res.Kind, "document_id", res.DocumentID,
		"posted", len(res.Posted), "skipped", len(res.Skipped))
	return res, nil
}

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/documents"
	"inventory-ledger/internal/reports"
)

type appService struct {
	inventory core.InventoryService
	query     core.QueryService
	docs      documents.Service
	repo      documents.Repository
	uom       core.UoMRegistry
	auditor   *core.Auditor
	retry     RetryPolicy
	log       *slog.Logger
}

// Deps groups the collaborators NewAppService wires together.
type Deps struct {
	Inventory core.InventoryService
	Query     core.QueryService
	Documents documents.Service
	Repo      documents.Repository
	UoM       core.UoMRegistry
	Auditor   *core.Auditor
	Retry     RetryPolicy
	Log       *slog.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(d Deps) ApplicationService {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &appService{
		inventory: d.Inventory,
		query:     d.Query,
		docs:      d.Documents,
		repo:      d.Repo,
		uom:       d.UoM,
		auditor:   d.Auditor,
		retry:     d.Retry,
		log:       log,
	}
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *appService) GetLevel(ctx context.Context, variantID, binID uuid.UUID) (*LevelResult, error) {
	lvl, err := s.query.GetLevel(ctx, variantID, binID)
	if err != nil {
		return nil, err
	}
	return &LevelResult{Level: lvl, Available: lvl.Available().String()}, nil
}

func (s *appService) ListLevels(ctx context.Context, f core.LevelFilter) (*LevelListResult, error) {
	levels, err := s.query.ListLevels(ctx, f)
	if err != nil {
		return nil, err
	}
	return &LevelListResult{Levels: levels, Count: len(levels)}, nil
}

func (s *appService) ListTransactions(ctx context.Context, f core.TransactionFilter) (*TransactionListResult, error) {
	txns, err := s.query.ListTransactions(ctx, f)
	if err != nil {
		return nil, err
	}
	res := &TransactionListResult{Transactions: txns}
	if n := len(txns); n > 0 {
		res.NextAfterSeq = txns[n-1].Seq
	}
	return res, nil
}

func (s *appService) ListReservations(ctx context.Context, f core.ReservationFilter) (*ReservationListResult, error) {
	rs, err := s.query.ListReservations(ctx, f)
	if err != nil {
		return nil, err
	}
	return &ReservationListResult{Reservations: rs}, nil
}

// ── Postings ─────────────────────────────────────────────────────────────────

func (s *appService) post(ctx context.Context, fn func(ctx context.Context) (*core.InventoryTransaction, error)) (*PostingResult, error) {
	txn, err := withRetry(ctx, s.retry, fn)
	if err != nil {
		return nil, err
	}
	return &PostingResult{Transaction: txn}, nil
}

func (s *appService) PostReceipt(ctx context.Context, req ReceiptRequest) (*PostingResult, error) {
	return s.post(ctx, func(ctx context.Context) (*core.InventoryTransaction, error) {
		return s.inventory.PostReceipt(ctx, req.line())
	})
}

func (s *appService) PostShipment(ctx context.Context, req ShipmentRequest) (*PostingResult, error) {
	return s.post(ctx, func(ctx context.Context) (*core.InventoryTransaction, error) {
		return s.inventory.PostShipment(ctx, req.line())
	})
}

func (s *appService) PostTransfer(ctx context.Context, req TransferRequest) (*PostingResult, error) {
	return s.post(ctx, func(ctx context.Context) (*core.InventoryTransaction, error) {
		return s.inventory.PostTransfer(ctx, req.line())
	})
}

func (s *appService) PostIssue(ctx context.Context, req IssueRequest) (*PostingResult, error) {
	return s.post(ctx, func(ctx context.Context) (*core.InventoryTransaction, error) {
		return s.inventory.PostIssue(ctx, req.line())
	})
}

func (s *appService) PostAdjustment(ctx context.Context, req AdjustmentRequest) (*PostingResult, error) {
	return s.post(ctx, func(ctx context.Context) (*core.InventoryTransaction, error) {
		return s.inventory.PostAdjustment(ctx, req.line())
	})
}

func (s *appService) PostReturn(ctx context.Context, req ReturnRequest) (*PostingResult, error) {
	return s.post(ctx, func(ctx context.Context) (*core.InventoryTransaction, error) {
		return s.inventory.PostReturn(ctx, req.line())
	})
}

func (s *appService) PostCount(ctx context.Context, req CountRequest) (*CountResult, error) {
	count := req.count()
	txns, err := withRetry(ctx, s.retry, func(ctx context.Context) ([]core.InventoryTransaction, error) {
		return s.inventory.PostCountReconciliation(ctx, count)
	})
	if err != nil {
		return nil, err
	}
	return &CountResult{Transactions: txns}, nil
}

func (s *appService) Reserve(ctx context.Context, req ReserveRequest) (*ReservationResult, error) {
	r, err := withRetry(ctx, s.retry, func(ctx context.Context) (*core.Reservation, error) {
		return s.inventory.Reserve(ctx, req.request())
	})
	if err != nil {
		return nil, err
	}
	return &ReservationResult{Reservation: r}, nil
}

func (s *appService) Release(ctx context.Context, reservationID uuid.UUID) (*ReservationResult, error) {
	r, err := withRetry(ctx, s.retry, func(ctx context.Context) (*core.Reservation, error) {
		return s.inventory.Release(ctx, reservationID)
	})
	if err != nil {
		return nil, err
	}
	return &ReservationResult{Reservation: r}, nil
}

func (s *appService) UpsertConversion(ctx context.Context, req ConversionRequest) error {
	return s.uom.UpsertConversion(ctx, core.UOMConversion{
		OrganizationID: req.OrganizationID,
		FromUOMID:      req.FromUOMID,
		ToUOMID:        req.ToUOMID,
		Factor:         req.Factor,
	})
}

// ── Documents ────────────────────────────────────────────────────────────────

// PostDocument dispatches on kind. A whole document is retried after a lock
// timeout; lines posted by the failed attempt are skipped on the next one.
func (s *appService) PostDocument(ctx context.Context, kind documents.Kind, id uuid.UUID) (*documents.PostResult, error) {
	var post func(context.Context, uuid.UUID) (*documents.PostResult, error)
	switch kind {
	case documents.KindGoodsReceipt:
		post = s.docs.PostGoodsReceipt
	case documents.KindShipment:
		post = s.docs.PostShipment
	case documents.KindStockTransfer:
		post = s.docs.PostTransfer
	case documents.KindStockCount:
		post = s.docs.CloseAndPostCount
	default:
		return nil, fmt.Errorf("%w: unknown document kind %q", core.ErrValidation, kind)
	}
	return withRetry(ctx, s.retry, func(ctx context.Context) (*documents.PostResult, error) {
		return post(ctx, id)
	})
}

func (s *appService) RecordSale(ctx context.Context, req documents.SaleRequest) (*documents.Sale, error) {
	// a stable id makes a retried sale resolve to the first attempt's posting
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	return withRetry(ctx, s.retry, func(ctx context.Context) (*documents.Sale, error) {
		return s.docs.RecordSale(ctx, req)
	})
}

func (s *appService) CancelSOLine(ctx context.Context, soLineID uuid.UUID) (*ReservationListResult, error) {
	rs, err := withRetry(ctx, s.retry, func(ctx context.Context) ([]core.Reservation, error) {
		return s.docs.CancelSOLine(ctx, soLineID)
	})
	if err != nil {
		return nil, err
	}
	return &ReservationListResult{Reservations: rs}, nil
}

// ── Spreadsheets ─────────────────────────────────────────────────────────────

func (s *appService) ImportCountSheet(ctx context.Context, countID uuid.UUID, r io.Reader) (*ImportResult, error) {
	sc, err := s.repo.StockCount(ctx, countID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock count %s: %w", countID, err)
	}
	lines, err := reports.ImportCountSheet(r)
	if err != nil {
		return nil, err
	}
	for i, l := range lines {
		lvl, err := s.query.GetLevel(ctx, l.VariantID, l.BinID)
		if err != nil {
			return nil, fmt.Errorf("count sheet line %d: %w", i+1, err)
		}
		if lvl.WarehouseID != sc.WarehouseID {
			return nil, fmt.Errorf("%w: count sheet line %d: bin %s is not in warehouse %s",
				core.ErrValidation, i+1, l.BinID, sc.WarehouseID)
		}
	}
	if err := s.repo.ReplaceCountLines(ctx, countID, lines); err != nil {
		return nil, fmt.Errorf("failed to store count lines: %w", err)
	}
	s.log.InfoContext(ctx, "count sheet imported", "count_id", countID, "code", sc.Code, "lines", len(lines))
	return &ImportResult{Lines: len(lines)}, nil
}

// allLevels pages through every level matching f. An explicit f.Limit returns
// a single page.
func (s *appService) allLevels(ctx context.Context, f core.LevelFilter) ([]core.InventoryLevel, error) {
	if f.Limit > 0 {
		return s.query.ListLevels(ctx, f)
	}
	var out []core.InventoryLevel
	f.Limit = core.MaxPageSize
	for {
		page, err := s.query.ListLevels(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < f.Limit {
			return out, nil
		}
		f.Offset += len(page)
	}
}

func (s *appService) ExportLevels(ctx context.Context, w io.Writer, f core.LevelFilter) error {
	levels, err := s.allLevels(ctx, f)
	if err != nil {
		return err
	}
	return reports.ExportLevels(w, levels)
}

func (s *appService) ExportLedger(ctx context.Context, w io.Writer, f core.TransactionFilter) error {
	if f.Limit > 0 {
		txns, err := s.query.ListTransactions(ctx, f)
		if err != nil {
			return err
		}
		return reports.ExportLedger(w, txns)
	}
	var all []core.InventoryTransaction
	f.Limit = core.MaxPageSize
	for {
		page, err := s.query.ListTransactions(ctx, f)
		if err != nil {
			return err
		}
		all = append(all, page...)
		if len(page) < f.Limit {
			break
		}
		f.AfterSeq = page[len(page)-1].Seq
	}
	return reports.ExportLedger(w, all)
}

func (s *appService) ExportCountSheet(ctx context.Context, w io.Writer, warehouseID uuid.UUID) error {
	if warehouseID == uuid.Nil {
		return fmt.Errorf("%w: warehouse is required", core.ErrValidation)
	}
	levels, err := s.allLevels(ctx, core.LevelFilter{WarehouseID: warehouseID})
	if err != nil {
		return err
	}
	return reports.ExportCountSheet(w, levels)
}

// ── Audit ────────────────────────────────────────────────────────────────────

func (s *appService) Audit(ctx context.Context) (*AuditResult, error) {
	drift, err := s.auditor.Audit(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to audit ledger: %w", err)
	}
	if len(drift) > 0 {
		s.log.WarnContext(ctx, "ledger audit found drift", "levels", len(drift))
	}
	return &AuditResult{Drift: drift, Clean: len(drift) == 0}, nil
}

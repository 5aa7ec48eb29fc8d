package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/documents"
)

// Documents is an in-memory documents.Repository.
type Documents struct {
	mu        sync.Mutex
	receipts  map[uuid.UUID]documents.GoodsReceipt
	shipments map[uuid.UUID]documents.Shipment
	transfers map[uuid.UUID]documents.StockTransfer
	counts    map[uuid.UUID]documents.StockCount
	poLines   map[uuid.UUID]documents.POLine
	soLines   map[uuid.UUID]documents.SOLine
	sales     map[uuid.UUID]documents.Sale
}

var _ documents.Repository = (*Documents)(nil)

func NewDocuments() *Documents {
	return &Documents{
		receipts:  make(map[uuid.UUID]documents.GoodsReceipt),
		shipments: make(map[uuid.UUID]documents.Shipment),
		transfers: make(map[uuid.UUID]documents.StockTransfer),
		counts:    make(map[uuid.UUID]documents.StockCount),
		poLines:   make(map[uuid.UUID]documents.POLine),
		soLines:   make(map[uuid.UUID]documents.SOLine),
		sales:     make(map[uuid.UUID]documents.Sale),
	}
}

// AddPOLine and AddSOLine seed order lines; orders themselves live elsewhere.
func (d *Documents) AddPOLine(l documents.POLine) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poLines[l.ID] = l
}

func (d *Documents) AddSOLine(l documents.SOLine) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l.Status == "" {
		l.Status = documents.StatusOpen
	}
	d.soLines[l.ID] = l
}

func assignIDs[T any](id *uuid.UUID, lines []T, lineID func(*T) *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	for i := range lines {
		if p := lineID(&lines[i]); *p == uuid.Nil {
			*p = uuid.New()
		}
	}
}

// ── Create ───────────────────────────────────────────────────────────────────

func (d *Documents) CreateGoodsReceipt(_ context.Context, gr *documents.GoodsReceipt) error {
	assignIDs(&gr.ID, gr.Lines, func(l *documents.GRLine) *uuid.UUID { return &l.ID })
	if gr.Status == "" {
		gr.Status = documents.StatusDraft
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receipts[gr.ID] = cloneReceipt(*gr)
	return nil
}

func (d *Documents) CreateShipment(_ context.Context, sh *documents.Shipment) error {
	assignIDs(&sh.ID, sh.Lines, func(l *documents.ShipmentLine) *uuid.UUID { return &l.ID })
	if sh.Status == "" {
		sh.Status = documents.StatusDraft
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shipments[sh.ID] = cloneShipment(*sh)
	return nil
}

func (d *Documents) CreateStockTransfer(_ context.Context, st *documents.StockTransfer) error {
	assignIDs(&st.ID, st.Lines, func(l *documents.TransferLine) *uuid.UUID { return &l.ID })
	if st.Status == "" {
		st.Status = documents.StatusDraft
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transfers[st.ID] = cloneTransfer(*st)
	return nil
}

func (d *Documents) CreateStockCount(_ context.Context, sc *documents.StockCount) error {
	assignIDs(&sc.ID, sc.Lines, func(l *documents.CountLine) *uuid.UUID { return &l.ID })
	if sc.Status == "" {
		sc.Status = documents.StatusOpen
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[sc.ID] = cloneCount(*sc)
	return nil
}

// ── Read ─────────────────────────────────────────────────────────────────────

func (d *Documents) GoodsReceipt(_ context.Context, id uuid.UUID) (documents.GoodsReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gr, ok := d.receipts[id]
	if !ok {
		return documents.GoodsReceipt{}, core.ErrNotFound
	}
	return cloneReceipt(gr), nil
}

func (d *Documents) Shipment(_ context.Context, id uuid.UUID) (documents.Shipment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sh, ok := d.shipments[id]
	if !ok {
		return documents.Shipment{}, core.ErrNotFound
	}
	return cloneShipment(sh), nil
}

func (d *Documents) StockTransfer(_ context.Context, id uuid.UUID) (documents.StockTransfer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.transfers[id]
	if !ok {
		return documents.StockTransfer{}, core.ErrNotFound
	}
	return cloneTransfer(st), nil
}

func (d *Documents) StockCount(_ context.Context, id uuid.UUID) (documents.StockCount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.counts[id]
	if !ok {
		return documents.StockCount{}, core.ErrNotFound
	}
	return cloneCount(sc), nil
}

func (d *Documents) POLine(_ context.Context, id uuid.UUID) (documents.POLine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.poLines[id]
	if !ok {
		return documents.POLine{}, core.ErrNotFound
	}
	return l, nil
}

func (d *Documents) SOLine(_ context.Context, id uuid.UUID) (documents.SOLine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.soLines[id]
	if !ok {
		return documents.SOLine{}, core.ErrNotFound
	}
	return l, nil
}

func (d *Documents) Sale(_ context.Context, id uuid.UUID) (documents.Sale, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sales[id]
	if !ok {
		return documents.Sale{}, core.ErrNotFound
	}
	return s, nil
}

// ── Bookkeeping ──────────────────────────────────────────────────────────────

func (d *Documents) MarkReceiptLinePosted(_ context.Context, line documents.GRLine, qty decimal.Decimal, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, gr := range d.receipts {
		for i := range gr.Lines {
			l := &gr.Lines[i]
			if l.ID != line.ID {
				continue
			}
			if l.PostedAt != nil {
				return nil
			}
			if l.POLineID != nil {
				po, ok := d.poLines[*l.POLineID]
				if !ok {
					return fmt.Errorf("purchase order line %s: %w", *l.POLineID, core.ErrNotFound)
				}
				po.QtyReceived = po.QtyReceived.Add(qty)
				d.poLines[po.ID] = po
			}
			l.PostedAt = &at
			d.receipts[id] = gr
			return nil
		}
	}
	return fmt.Errorf("goods receipt line %s: %w", line.ID, core.ErrNotFound)
}

func (d *Documents) MarkShipmentLinePosted(_ context.Context, line documents.ShipmentLine, qty decimal.Decimal, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, sh := range d.shipments {
		for i := range sh.Lines {
			l := &sh.Lines[i]
			if l.ID != line.ID {
				continue
			}
			if l.PostedAt != nil {
				return nil
			}
			if l.SOLineID != nil {
				so, ok := d.soLines[*l.SOLineID]
				if !ok {
					return fmt.Errorf("sales order line %s: %w", *l.SOLineID, core.ErrNotFound)
				}
				so.QtyShipped = so.QtyShipped.Add(qty)
				d.soLines[so.ID] = so
			}
			l.PostedAt = &at
			d.shipments[id] = sh
			return nil
		}
	}
	return fmt.Errorf("shipment line %s: %w", line.ID, core.ErrNotFound)
}

func (d *Documents) MarkTransferLinePosted(_ context.Context, lineID uuid.UUID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, st := range d.transfers {
		for i := range st.Lines {
			if st.Lines[i].ID == lineID {
				if st.Lines[i].PostedAt == nil {
					st.Lines[i].PostedAt = &at
					d.transfers[id] = st
				}
				return nil
			}
		}
	}
	return fmt.Errorf("transfer line %s: %w", lineID, core.ErrNotFound)
}

func (d *Documents) SetStatus(_ context.Context, kind documents.Kind, id uuid.UUID, status documents.Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch kind {
	case documents.KindGoodsReceipt:
		gr, ok := d.receipts[id]
		if !ok {
			return core.ErrNotFound
		}
		gr.Status = status
		d.receipts[id] = gr
	case documents.KindShipment:
		sh, ok := d.shipments[id]
		if !ok {
			return core.ErrNotFound
		}
		sh.Status = status
		d.shipments[id] = sh
	case documents.KindStockTransfer:
		st, ok := d.transfers[id]
		if !ok {
			return core.ErrNotFound
		}
		st.Status = status
		d.transfers[id] = st
	case documents.KindStockCount:
		sc, ok := d.counts[id]
		if !ok {
			return core.ErrNotFound
		}
		sc.Status = status
		d.counts[id] = sc
	default:
		return fmt.Errorf("unknown document kind %q", kind)
	}
	return nil
}

func (d *Documents) ReplaceCountLines(_ context.Context, countID uuid.UUID, lines []documents.CountLine) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.counts[countID]
	if !ok {
		return core.ErrNotFound
	}
	if sc.Status != documents.StatusOpen {
		return fmt.Errorf("stock count %s is %s: %w", sc.Code, sc.Status, core.ErrValidation)
	}
	sc.Lines = append([]documents.CountLine(nil), lines...)
	for i := range sc.Lines {
		if sc.Lines[i].ID == uuid.Nil {
			sc.Lines[i].ID = uuid.New()
		}
	}
	d.counts[countID] = sc
	return nil
}

func (d *Documents) CloseStockCount(_ context.Context, countID uuid.UUID, variances map[uuid.UUID]decimal.Decimal, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.counts[countID]
	if !ok {
		return core.ErrNotFound
	}
	sc = cloneCount(sc)
	for i := range sc.Lines {
		if v, ok := variances[sc.Lines[i].ID]; ok {
			sc.Lines[i].Variance = &v
		}
	}
	sc.Status = documents.StatusClosed
	sc.ClosedAt = &at
	d.counts[countID] = sc
	return nil
}

func (d *Documents) CancelSOLine(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.soLines[id]
	if !ok {
		return core.ErrNotFound
	}
	l.Status = documents.StatusCancelled
	d.soLines[id] = l
	return nil
}

func (d *Documents) InsertSale(_ context.Context, s documents.Sale) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sales[s.ID]; !ok {
		d.sales[s.ID] = s
	}
	return nil
}

// ── Copies ───────────────────────────────────────────────────────────────────

func cloneReceipt(gr documents.GoodsReceipt) documents.GoodsReceipt {
	gr.Lines = append([]documents.GRLine(nil), gr.Lines...)
	return gr
}

func cloneShipment(sh documents.Shipment) documents.Shipment {
	sh.Lines = append([]documents.ShipmentLine(nil), sh.Lines...)
	return sh
}

func cloneTransfer(st documents.StockTransfer) documents.StockTransfer {
	st.Lines = append([]documents.TransferLine(nil), st.Lines...)
	return st
}

func cloneCount(sc documents.StockCount) documents.StockCount {
	sc.Lines = append([]documents.CountLine(nil), sc.Lines...)
	return sc
}

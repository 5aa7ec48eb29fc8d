package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"
)

// ── Query parameters ─────────────────────────────────────────────────────────

// params collects query-parameter parse failures so a handler can report the
// first one after reading everything it needs.
type params struct {
	r   *http.Request
	err error
}

func (p *params) uuid(name string) uuid.UUID {
	v := p.r.URL.Query().Get(name)
	if v == "" || p.err != nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		p.err = fmt.Errorf("%s must be a UUID", name)
	}
	return id
}

func (p *params) int(name string) int {
	v := p.r.URL.Query().Get(name)
	if v == "" || p.err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.err = fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n
}

func (p *params) int64(name string) int64 {
	v := p.r.URL.Query().Get(name)
	if v == "" || p.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		p.err = fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n
}

func (p *params) bool(name string) bool {
	v := p.r.URL.Query().Get(name)
	if v == "" || p.err != nil {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.err = fmt.Errorf("%s must be true or false", name)
	}
	return b
}

func (p *params) time(name string) time.Time {
	v := p.r.URL.Query().Get(name)
	if v == "" || p.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		p.err = fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return t
}

func (p *params) ok(w http.ResponseWriter) bool {
	if p.err != nil {
		writeError(w, p.r, p.err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// pathID parses the {id} URL parameter.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "id must be a UUID", "BAD_REQUEST", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func levelFilter(p *params) core.LevelFilter {
	return core.LevelFilter{
		OrganizationID: p.uuid("organization_id"),
		WarehouseID:    p.uuid("warehouse_id"),
		BinID:          p.uuid("bin_id"),
		VariantID:      p.uuid("variant_id"),
		BelowReorder:   p.bool("below_reorder"),
		Limit:          p.int("limit"),
		Offset:         p.int("offset"),
	}
}

func transactionFilter(p *params) core.TransactionFilter {
	f := core.TransactionFilter{
		OrganizationID: p.uuid("organization_id"),
		VariantID:      p.uuid("variant_id"),
		BinID:          p.uuid("bin_id"),
		Type:           core.TransactionType(p.r.URL.Query().Get("type")),
		SourceType:     p.r.URL.Query().Get("source_type"),
		SourceID:       p.r.URL.Query().Get("source_id"),
		From:           p.time("from"),
		To:             p.time("to"),
		AfterSeq:       p.int64("after_seq"),
		Limit:          p.int("limit"),
	}
	if f.Type != "" && !f.Type.Valid() && p.err == nil {
		p.err = fmt.Errorf("unknown transaction type %q", f.Type)
	}
	return f
}

// ── Queries ──────────────────────────────────────────────────────────────────

// apiLevels returns one level when both variant_id and bin_id are given and
// a filtered list otherwise.
func (h *Handler) apiLevels(w http.ResponseWriter, r *http.Request) {
	p := &params{r: r}
	f := levelFilter(p)
	if !p.ok(w) {
		return
	}
	if f.VariantID != uuid.Nil && f.BinID != uuid.Nil {
		res, err := h.svc.GetLevel(r.Context(), f.VariantID, f.BinID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, res)
		return
	}
	res, err := h.svc.ListLevels(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiTransactions(w http.ResponseWriter, r *http.Request) {
	p := &params{r: r}
	f := transactionFilter(p)
	if !p.ok(w) {
		return
	}
	res, err := h.svc.ListTransactions(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiReservations(w http.ResponseWriter, r *http.Request) {
	p := &params{r: r}
	f := core.ReservationFilter{
		SOLineID:  p.uuid("so_line_id"),
		VariantID: p.uuid("variant_id"),
		BinID:     p.uuid("bin_id"),
		Status:    core.ReservationStatus(r.URL.Query().Get("status")),
		Limit:     p.int("limit"),
	}
	if !p.ok(w) {
		return
	}
	res, err := h.svc.ListReservations(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiAudit(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Audit(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// ── Postings ─────────────────────────────────────────────────────────────────

// postJSON decodes a request body of type T, calls fn and writes its result
// with 201 Created.
func postJSON[T any, R any](h *Handler, fn func(r *http.Request, req T) (R, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req T
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := fn(r, req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, res)
	}
}

func (h *Handler) apiPostReceipt(w http.ResponseWriter, r *http.Request) {
	postJSON(h, func(r *http.Request, req app.ReceiptRequest) (*app.PostingResult, error) {
		return h.svc.PostReceipt(r.Context(), req)
	})(w, r)
}

func (h *Handler) apiPostShipment(w http.ResponseWriter, r *http.Request) {
	postJSON(h, func(r *http.Request, req app.ShipmentRequest) (*app.PostingResult, error) {
		return h.svc.PostShipment(r.Context(), req)
	})(w, r)
}

func (h *Handler) apiPostTransfer(w http.ResponseWriter, r *http.Request) {
	postJSON(h, func(r *http.Request, req app.TransferRequest) (*app.PostingResult, error) {
		return h.svc.PostTransfer(r.Context(), req)
	})(w, r)
}

func (h *Handler) apiPostIssue(w http.ResponseWriter, r *http.Request) {
	postJSON(h, func(r *http.Request, req app.IssueRequest) (*app.PostingResult, error) {
		return h.svc.PostIssue(r.Context(), req)
	})(w, r)
}

func (h *Handler) apiPostAdjustment(w http.ResponseWriter, r *http.Request) {
	postJSON(h, func(r *http.Request, req app.AdjustmentRequest) (*app.PostingResult, error) {
		return h.svc.PostAdjustment(r.Context(), req)
	})(w, r)
}

func (h *Handler) apiPostReturn(w http.ResponseWriter, r *http.Request) {
	postJSON(h, func(r *http.Request, req app.ReturnRequest) (*app.PostingResult, error) {
		return h.svc.PostReturn(r.Context(), req)
	})(w, r)
}

func (h *Handler) apiPostCount(w http.ResponseWriter, r *http.Request) {
	postJSON(h, func(r *http.Request, req app.CountRequest) (*app.CountResult, error) {
		return h.svc.PostCount(r.Context(), req)
	})(w, r)
}

func (h *Handler) apiReserve(w http.ResponseWriter, r *http.Request) {
	postJSON(h, func(r *http.Request, req app.ReserveRequest) (*app.ReservationResult, error) {
		return h.svc.Reserve(r.Context(), req)
	})(w, r)
}

func (h *Handler) apiRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Release(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiUpsertConversion(w http.ResponseWriter, r *http.Request) {
	var req app.ConversionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.UpsertConversion(r.Context(), req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

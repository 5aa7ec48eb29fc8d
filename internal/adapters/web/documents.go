package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"inventory-ledger/internal/documents"
	"inventory-ledger/internal/reports"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) apiPostDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	kind := documents.Kind(chi.URLParam(r, "kind"))
	res, err := h.svc.PostDocument(r.Context(), kind, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiRecordSale(w http.ResponseWriter, r *http.Request) {
	postJSON(h, func(r *http.Request, req documents.SaleRequest) (*documents.Sale, error) {
		return h.svc.RecordSale(r.Context(), req)
	})(w, r)
}

func (h *Handler) apiCancelSOLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.CancelSOLine(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiImportCountSheet accepts the workbook either as the raw request body or
// as the "file" field of a multipart form.
func (h *Handler) apiImportCountSheet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, "multipart upload needs a file field", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		defer file.Close()
		body = file
	}
	res, err := h.svc.ImportCountSheet(r.Context(), id, body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// ── Exports ──────────────────────────────────────────────────────────────────

// sendWorkbook renders into a buffer first so a failed export still gets a
// JSON error instead of a truncated attachment.
func (h *Handler) sendWorkbook(w http.ResponseWriter, r *http.Request, prefix string, render func(ctx context.Context, w io.Writer) error) {
	var buf bytes.Buffer
	if err := render(r.Context(), &buf); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reports.Filename(prefix, time.Now().UTC())))
	_, _ = buf.WriteTo(w)
}

func (h *Handler) apiExportLevels(w http.ResponseWriter, r *http.Request) {
	p := &params{r: r}
	f := levelFilter(p)
	if !p.ok(w) {
		return
	}
	h.sendWorkbook(w, r, "levels", func(ctx context.Context, out io.Writer) error {
		return h.svc.ExportLevels(ctx, out, f)
	})
}

func (h *Handler) apiExportLedger(w http.ResponseWriter, r *http.Request) {
	p := &params{r: r}
	f := transactionFilter(p)
	if !p.ok(w) {
		return
	}
	h.sendWorkbook(w, r, "ledger", func(ctx context.Context, out io.Writer) error {
		return h.svc.ExportLedger(ctx, out, f)
	})
}

func (h *Handler) apiExportCountSheet(w http.ResponseWriter, r *http.Request) {
	p := &params{r: r}
	warehouseID := p.uuid("warehouse_id")
	if !p.ok(w) {
		return
	}
	h.sendWorkbook(w, r, "count_sheet", func(ctx context.Context, out io.Writer) error {
		return h.svc.ExportCountSheet(ctx, out, warehouseID)
	})
}

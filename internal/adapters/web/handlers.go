package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"inventory-ledger/internal/app"
)

// RequestObserver records one served request per route pattern.
type RequestObserver interface {
	ObserveRequest(route string, status int)
}

// Options configures NewHandler. Zero values disable the optional parts.
type Options struct {
	AllowedOrigins []string
	// Metrics, when set, is mounted at /metrics.
	Metrics  http.Handler
	Observer RequestObserver
	// Ready is called by /api/health; a non-nil error reports 503.
	Ready func(ctx context.Context) error
	Log   *slog.Logger
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc   app.ApplicationService
	ready func(ctx context.Context) error
	log   *slog.Logger
}

const (
	bodyLimit   = 1 << 20
	uploadLimit = 8 << 20
)

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{svc: svc, ready: opts.Ready, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(opts.AllowedOrigins))
	if opts.Observer != nil {
		r.Use(ObserveRequests(opts.Observer))
	}

	r.Get("/api/health", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// xlsx uploads carry a larger body limit than JSON requests.
	r.With(RequestBodyLimit(uploadLimit)).Post("/api/counts/{id}/sheet", h.apiImportCountSheet)

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(bodyLimit))

		// ── Queries ──────────────────────────────────────────────────────────
		r.Get("/api/levels", h.apiLevels)
		r.Get("/api/transactions", h.apiTransactions)
		r.Get("/api/reservations", h.apiReservations)
		r.Get("/api/audit", h.apiAudit)

		// ── Postings ─────────────────────────────────────────────────────────
		r.Post("/api/receipts", h.apiPostReceipt)
		r.Post("/api/shipments", h.apiPostShipment)
		r.Post("/api/transfers", h.apiPostTransfer)
		r.Post("/api/issues", h.apiPostIssue)
		r.Post("/api/adjustments", h.apiPostAdjustment)
		r.Post("/api/returns", h.apiPostReturn)
		r.Post("/api/counts", h.apiPostCount)
		r.Post("/api/reservations", h.apiReserve)
		r.Post("/api/reservations/{id}/release", h.apiRelease)
		r.Post("/api/conversions", h.apiUpsertConversion)

		// ── Documents ────────────────────────────────────────────────────────
		r.Post("/api/documents/{kind}/{id}/post", h.apiPostDocument)
		r.Post("/api/sales", h.apiRecordSale)
		r.Post("/api/so-lines/{id}/cancel", h.apiCancelSOLine)

		// ── Exports ──────────────────────────────────────────────────────────
		r.Get("/api/exports/levels.xlsx", h.apiExportLevels)
		r.Get("/api/exports/ledger.xlsx", h.apiExportLedger)
		r.Get("/api/exports/count-sheet.xlsx", h.apiExportCountSheet)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(response{Status: "unavailable", Error: err.Error()})
			return
		}
	}
	writeJSON(w, response{Status: "ok"})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
